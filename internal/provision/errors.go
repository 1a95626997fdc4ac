package provision

import "errors"

// Domain-specific errors for provisioning operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrValidation is returned when a device record cannot be provisioned
	// as recorded (missing MAC, hostname too long, malformed address).
	ErrValidation = errors.New("provision: invalid device record")

	// ErrDeviceUnreachable is returned when a device resolved from the
	// address cache does not answer on the network, including device API
	// calls that fail after all retry attempts.
	ErrDeviceUnreachable = errors.New("provision: device unreachable")

	// ErrTransport is returned when a device call fails for a reason
	// retrying cannot help: a payload that cannot be encoded, a request
	// that cannot be built, a local file that cannot be read.
	ErrTransport = errors.New("provision: device request failed")

	// ErrTooManyCommands is returned when a command batch exceeds the
	// device firmware's backlog ceiling.
	ErrTooManyCommands = errors.New("provision: too many commands in backlog")

	// ErrBridgeUnavailable is returned when the Zigbee bridge does not
	// report itself online.
	ErrBridgeUnavailable = errors.New("provision: zigbee bridge unavailable")

	// ErrUnknownFirmware is returned when the enabled-firmware list names
	// a family no handler exists for. This is fatal to the run.
	ErrUnknownFirmware = errors.New("provision: unknown firmware family")

	// ErrBackup is returned when a configuration dump cannot be written
	// to the backup directory.
	ErrBackup = errors.New("provision: backup write failed")
)
