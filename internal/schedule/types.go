package schedule

import "time"

// Action is what a schedule does to its targets when it becomes active.
type Action string

const (
	ActionOn  Action = "on"
	ActionOff Action = "off"
)

// Desired returns the switch state the action sets.
func (a Action) Desired() bool { return a == ActionOn }

// Type selects how activity is computed.
type Type string

const (
	TypeOnce      Type = "once"
	TypeRecurring Type = "recurring"
	TypeAlways    Type = "always"
)

// FiredState is the last edge a schedule fired on.
type FiredState string

const (
	// FiredUnknown means the schedule has not been evaluated since it was
	// created or changed.
	FiredUnknown  FiredState = ""
	FiredActive   FiredState = "active"
	FiredInactive FiredState = "inactive"
)

// Day is a weekday in its three-letter lower-case form.
type Day string

const (
	Sunday    Day = "sun"
	Monday    Day = "mon"
	Tuesday   Day = "tue"
	Wednesday Day = "wed"
	Thursday  Day = "thu"
	Friday    Day = "fri"
	Saturday  Day = "sat"
)

var dayByWeekday = [7]Day{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// DayOf returns the Day for a time.Weekday.
func DayOf(w time.Weekday) Day { return dayByWeekday[w] }

// Target is one switch a schedule drives.
type Target struct {
	DeviceID string `json:"deviceId"`
	SwitchID string `json:"switchId"`
}

// Schedule is a time-window automation over a set of switches.
type Schedule struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Action  Action   `json:"action"`
	Type    Type     `json:"type"`
	Targets []Target `json:"targets"`

	// Days, Start and End apply to recurring schedules.
	Days  []Day  `json:"days,omitempty"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// At applies to once schedules.
	At time.Time `json:"at,omitzero"`

	Enabled bool `json:"enabled"`
	// InverseOnExit dispatches the opposite action when the window closes.
	InverseOnExit bool `json:"inverseOnExit"`

	LastFiredState FiredState `json:"lastFiredState,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with s.
func (s *Schedule) Clone() *Schedule {
	cpy := *s
	cpy.Targets = append([]Target(nil), s.Targets...)
	cpy.Days = append([]Day(nil), s.Days...)
	return &cpy
}

// Logger defines the logging interface used by the schedule package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
