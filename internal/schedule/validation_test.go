package schedule

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecurring() *Schedule {
	return &Schedule{
		Name:    "Porch lights",
		Action:  ActionOn,
		Type:    TypeRecurring,
		Targets: []Target{{DeviceID: "relay-a", SwitchID: "relay1"}},
		Days:    []Day{Monday, Friday},
		Start:   "18:00",
		End:     "23:30",
		Enabled: true,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Schedule)
		wantErr string
	}{
		{"valid", func(*Schedule) {}, ""},
		{"overnight is valid", func(s *Schedule) { s.Start, s.End = "22:00", "06:00" }, ""},
		{"always needs no window", func(s *Schedule) { s.Type, s.Days, s.Start, s.End = TypeAlways, nil, "", "" }, ""},
		{"missing name", func(s *Schedule) { s.Name = "  " }, "name is required"},
		{"long name", func(s *Schedule) { s.Name = strings.Repeat("x", 101) }, "at most 100"},
		{"bad action", func(s *Schedule) { s.Action = "toggle" }, "must be on or off"},
		{"no targets", func(s *Schedule) { s.Targets = nil }, "at least one target"},
		{"empty target", func(s *Schedule) { s.Targets = []Target{{DeviceID: "relay-a"}} }, "need deviceId and switchId"},
		{"duplicate target", func(s *Schedule) { s.Targets = append(s.Targets, s.Targets[0]) }, "duplicate target"},
		{"bad type", func(s *Schedule) { s.Type = "hourly" }, "must be once, recurring or always"},
		{"once without at", func(s *Schedule) { s.Type = TypeOnce }, "once schedules need at"},
		{"no days", func(s *Schedule) { s.Days = nil }, "at least one day"},
		{"unknown day", func(s *Schedule) { s.Days = []Day{"monday"} }, `unknown day "monday"`},
		{"bad start", func(s *Schedule) { s.Start = "25:00" }, "start: time"},
		{"equal start and end", func(s *Schedule) { s.End = s.Start }, "must differ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validRecurring()
			tt.mutate(s)
			err := Validate(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidSchedule)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_OnceWithAt(t *testing.T) {
	s := validRecurring()
	s.Type = TypeOnce
	s.At = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.NoError(t, Validate(s))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := Validate(&Schedule{Type: TypeRecurring})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "at least one target")
	assert.Contains(t, msg, "at least one day")
}
