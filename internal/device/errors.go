package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // unknown device
//	}
var (
	// ErrDeviceNotFound is returned when a device ID or MAC is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrSwitchNotFound is returned when a switch ID or pin does not exist on a device.
	ErrSwitchNotFound = errors.New("device: switch not found")

	// ErrInvalidSecret rejects an identification whose secret does not match.
	ErrInvalidSecret = errors.New("device: invalid secret")

	ErrInvalidMAC    = errors.New("device: invalid MAC address")
	ErrInvalidSwitch = errors.New("device: invalid switch definition")
)
