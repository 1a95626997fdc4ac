package inventory

import (
	"strings"

	"github.com/in-res/domoprov/internal/naming"
)

// State is the provisioning state recorded for a device in the admin store.
type State string

// State vocabulary. Only Enable and Enable-Hot are provisioned; every other
// value (including unrecognised ones) is treated as disabled.
const (
	StateEnable    State = "Enable"
	StateEnableHot State = "Enable-Hot"
	StateDisable   State = "Disable"
	StateNA        State = "NA"
	StateKO        State = "KO"
)

// Enabled reports whether a device in this state should be provisioned.
func (s State) Enabled() bool {
	return s == StateEnable || s == StateEnableHot
}

// Mode is the wiring mode of a device.
type Mode string

// Mode constants.
const (
	ModeStandard Mode = "standard"
	Mode3Way     Mode = "3way"
)

// Firmware family identifiers as stored in the admin store.
const (
	FirmwareTasmota = "tasmota"
	FirmwareZigbee  = "zigbee"
	FirmwareWLED    = "wled"
)

// DeviceRecord is a flat, read-only snapshot of one device row from the
// admin store. The store itself belongs to the admin backend; this core
// never writes to it. The only mutable field is IP, an in-memory annotation
// filled in when the address cache resolves the device.
type DeviceRecord struct {
	// MAC is the canonical device identity (lowercase after Normalize).
	// Zigbee devices carry an EUI-64 address (0x + 16 hex digits) here.
	MAC string

	State    State
	Level    int
	Room     string // display name, used for Home Assistant suggested_area
	RoomSlug string

	Position     string
	PositionSlug string

	Function string // role: button, light, shutter, ...
	Firmware string // family: tasmota, zigbee, wled, ...
	Model    string

	// Interlock is the legacy relay-interlock group string. Empty or "0"
	// means no interlock.
	Interlock string

	Mode Mode

	// Target references another device's topic for linked automations
	// (a button driving a light elsewhere). Optional.
	Target string

	Extra         string
	HADeviceClass string
	Hostname      string

	// IP is resolved from the address cache at run time. Never persisted.
	IP string
}

// Normalize lowercases and trims the identity fields in place and returns
// the normalised MAC and hostname. Run before any derivation or matching.
func (d *DeviceRecord) Normalize() (mac, hostname string) {
	d.MAC = strings.ToLower(strings.TrimSpace(d.MAC))
	d.Hostname = strings.ToLower(strings.TrimSpace(d.Hostname))
	return d.MAC, d.Hostname
}

// Descriptor returns the naming descriptor for this record.
func (d *DeviceRecord) Descriptor() naming.Descriptor {
	return naming.Descriptor{
		Level:        d.Level,
		RoomSlug:     d.RoomSlug,
		Function:     d.Function,
		PositionSlug: d.PositionSlug,
	}
}

// HasInterlock reports whether the legacy interlock group is set.
func (d *DeviceRecord) HasInterlock() bool {
	return d.Interlock != "" && d.Interlock != "0"
}

// Is3Way reports whether the device is wired in 3-way mode.
func (d *DeviceRecord) Is3Way() bool {
	return d.Mode == Mode3Way
}

// HasTarget reports whether the record links to another device.
// The admin export historically wrote the literal "None" for empty targets.
func (d *DeviceRecord) HasTarget() bool {
	return d.Target != "" && d.Target != "None"
}
