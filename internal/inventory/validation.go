package inventory

import (
	"fmt"
	"regexp"
)

// maxHostnameLength is the firmware-side hostname ceiling. Both Tasmota and
// WLED reject hostnames of 32 characters or more.
// See https://tasmota.github.io/docs/Commands/#wi-fi
const maxHostnameLength = 31

// eui64Pattern matches a Zigbee IEEE address: 0x followed by 16 hex digits.
var eui64Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{16}$`)

// Validate checks the preconditions a record must meet before any handler
// touches it. It does NOT check reachability; that is the handler's job.
//
// Returns:
//   - error: wrapping ErrMissingMAC or ErrHostnameTooLong, or nil
func (d *DeviceRecord) Validate() error {
	if d.MAC == "" {
		return fmt.Errorf("%w: %s/%s", ErrMissingMAC, d.RoomSlug, d.PositionSlug)
	}
	return ValidateHostname(d.Hostname)
}

// ValidateHostname checks the hostname against the shared firmware limit.
func ValidateHostname(hostname string) error {
	if len(hostname) > maxHostnameLength {
		return fmt.Errorf("%w: %q (%d chars)", ErrHostnameTooLong, hostname, len(hostname))
	}
	return nil
}

// IsEUI64 reports whether addr is a Zigbee IEEE (EUI-64) address.
func IsEUI64(addr string) bool {
	return eui64Pattern.MatchString(addr)
}
