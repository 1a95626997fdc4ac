package inventory

import "errors"

// Domain errors for the inventory package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, inventory.ErrMissingMAC) {
//	    // record cannot be provisioned
//	}
var (
	// ErrInvalidRecord is returned when a device record fails a precondition.
	ErrInvalidRecord = errors.New("inventory: invalid record")

	// ErrMissingMAC is returned when a record has no MAC address.
	// MAC is the canonical device identity; such records cannot be provisioned.
	ErrMissingMAC = errors.New("inventory: record has no MAC address")

	// ErrHostnameTooLong is returned when a hostname exceeds the 31-character
	// limit shared by the device firmwares.
	ErrHostnameTooLong = errors.New("inventory: hostname exceeds 31 characters")

	// ErrLoadFailed is returned when the device store cannot be read.
	ErrLoadFailed = errors.New("inventory: loading device records failed")
)
