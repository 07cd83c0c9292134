package schedule

import (
	"fmt"
	"slices"
	"strings"
)

const maxNameLength = 100

// Validate checks a schedule's shape. It does not check that targets exist.
func Validate(s *Schedule) error {
	var errs []string

	name := strings.TrimSpace(s.Name)
	if name == "" {
		errs = append(errs, "name is required")
	} else if len(name) > maxNameLength {
		errs = append(errs, fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}

	switch s.Action {
	case ActionOn, ActionOff:
	default:
		errs = append(errs, fmt.Sprintf("action %q must be on or off", s.Action))
	}

	if len(s.Targets) == 0 {
		errs = append(errs, "at least one target is required")
	}
	seen := make(map[Target]bool, len(s.Targets))
	for _, t := range s.Targets {
		if t.DeviceID == "" || t.SwitchID == "" {
			errs = append(errs, "targets need deviceId and switchId")
			continue
		}
		if seen[t] {
			errs = append(errs, fmt.Sprintf("duplicate target %s/%s", t.DeviceID, t.SwitchID))
		}
		seen[t] = true
	}

	switch s.Type {
	case TypeAlways:
	case TypeOnce:
		if s.At.IsZero() {
			errs = append(errs, "once schedules need at")
		}
	case TypeRecurring:
		errs = append(errs, validateRecurring(s)...)
	default:
		errs = append(errs, fmt.Sprintf("type %q must be once, recurring or always", s.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSchedule, strings.Join(errs, "; "))
	}
	return nil
}

func validateRecurring(s *Schedule) []string {
	var errs []string
	if len(s.Days) == 0 {
		errs = append(errs, "recurring schedules need at least one day")
	}
	for _, d := range s.Days {
		if !slices.Contains(dayByWeekday[:], d) {
			errs = append(errs, fmt.Sprintf("unknown day %q", d))
		}
	}

	start, err := parseClock(s.Start)
	if err != nil {
		errs = append(errs, "start: "+err.Error())
	}
	end, err2 := parseClock(s.End)
	if err2 != nil {
		errs = append(errs, "end: "+err2.Error())
	}
	if err == nil && err2 == nil && start == end {
		errs = append(errs, "start and end must differ")
	}
	return errs
}
