package schedule

import (
	"fmt"
	"slices"
	"time"
)

// IsActive reports whether s is active at now. now must already be in the
// site's location. tick is the evaluation interval and sets the width of a
// once schedule's window.
func IsActive(s *Schedule, now time.Time, tick time.Duration) bool {
	switch s.Type {
	case TypeAlways:
		return true
	case TypeOnce:
		return !now.Before(s.At) && now.Before(s.At.Add(tick))
	case TypeRecurring:
		return recurringActive(s, now)
	}
	return false
}

func recurringActive(s *Schedule, now time.Time) bool {
	start, err := parseClock(s.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(s.End)
	if err != nil {
		return false
	}

	cur := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second
	today := DayOf(now.Weekday())

	if start < end {
		return slices.Contains(s.Days, today) && cur >= start && cur < end
	}

	// Wraps past midnight: the evening part belongs to today, the early
	// morning part to yesterday's window.
	yesterday := DayOf(now.AddDate(0, 0, -1).Weekday())
	return (slices.Contains(s.Days, today) && cur >= start) ||
		(slices.Contains(s.Days, yesterday) && cur < end)
}

// parseClock converts "HH:MM" to an offset from midnight.
func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("time %q must be HH:MM", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
