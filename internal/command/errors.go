package command

import "errors"

var (
	// ErrUnknownDevice is returned when a request targets an unregistered device.
	ErrUnknownDevice = errors.New("command: unknown device")

	// ErrUnknownSwitch is returned when a request targets a switch the device does not own.
	ErrUnknownSwitch = errors.New("command: unknown switch")

	// ErrSendFailed is returned when the transport rejects a command.
	ErrSendFailed = errors.New("command: send failed")

	// ErrCommandNotFound is returned by Command for an unknown ID.
	ErrCommandNotFound = errors.New("command: not found")

	// ErrInvalidReport is returned for a manual report that names no switch.
	ErrInvalidReport = errors.New("command: invalid manual report")
)
