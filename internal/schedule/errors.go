package schedule

import "errors"

var (
	// ErrScheduleNotFound is returned when a schedule does not exist.
	ErrScheduleNotFound = errors.New("schedule: not found")

	// ErrInvalidSchedule is returned when a schedule fails validation.
	ErrInvalidSchedule = errors.New("schedule: invalid")

	// ErrInvalidTarget is returned when a target names an unknown device or switch.
	ErrInvalidTarget = errors.New("schedule: invalid target")
)
