package command

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/relay-core/internal/device"
)

// Status is a command's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSent       Status = "sent"
	StatusAcked      Status = "acked"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusSuperseded Status = "superseded"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusAcked, StatusFailed, StatusExpired, StatusSuperseded:
		return true
	}
	return false
}

// SourceKind identifies who asked for a command.
type SourceKind string

const (
	SourceUser     SourceKind = "user"
	SourceSchedule SourceKind = "schedule"
	SourceSystem   SourceKind = "system"
)

// Source is the originator of a command. ID is a user or schedule ID.
type Source struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// UserSource returns a Source for a collaborator-initiated request.
func UserSource(id string) Source { return Source{Kind: SourceUser, ID: id} }

// ScheduleSource returns a Source for a schedule-initiated request.
func ScheduleSource(id string) Source { return Source{Kind: SourceSchedule, ID: id} }

// switchSource maps the command origin onto the switch state source.
func (s Source) switchSource() device.Source {
	switch s.Kind {
	case SourceSchedule:
		return device.SourceSchedule
	case SourceSystem:
		return device.SourceSystem
	default:
		return device.SourceRemote
	}
}

// Command is one request to set a switch. It refers to its device and
// switch by ID only.
type Command struct {
	ID       string `json:"id"`
	DeviceID string `json:"deviceId"`
	SwitchID string `json:"switchId"`
	Desired  bool   `json:"desired"`
	// Seq is assigned when the command is pushed; zero while queued.
	Seq     uint64 `json:"seq"`
	Source  Source `json:"source"`
	Attempt int    `json:"attempt"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`

	IssuedAt    time.Time `json:"issuedAt"`
	SentAt      time.Time `json:"sentAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// Outcome values returned by Toggle.
const (
	OutcomeSent   = "sent"
	OutcomeQueued = "queued"
)

// Outcome is the immediate result of a toggle request.
type Outcome struct {
	CommandID string `json:"commandId"`
	SwitchID  string `json:"switchId"`
	// Status is OutcomeSent or OutcomeQueued.
	Status string `json:"status"`
	Seq    uint64 `json:"seq,omitempty"`
}

// Per-device classification in a BulkResult.
const (
	DeviceCommanded = "commanded"
	DeviceOffline   = "offline"
	DeviceFailed    = "failed"
)

// DeviceOutcome is one device's share of a bulk toggle.
type DeviceOutcome struct {
	DeviceID string    `json:"deviceId"`
	Status   string    `json:"status"`
	Commands []Outcome `json:"commands,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// BulkResult aggregates a bulk toggle. A failing device never fails the batch.
type BulkResult struct {
	CommandedDevices int             `json:"commandedDevices"`
	OfflineDevices   int             `json:"offlineDevices"`
	FailedDevices    int             `json:"failedDevices"`
	Devices          []DeviceOutcome `json:"devices"`
}

// ConflictType values.
const ConflictManualOverride = "manual_override"

// ResolutionManualApplied is the only resolution the Resolver produces.
const ResolutionManualApplied = "manual override applied"

// ConflictRecord is the audit entry for a manual toggle that contradicted
// a recently sent command. It is never modified after creation.
type ConflictRecord struct {
	ID            string        `json:"id"`
	DeviceID      string        `json:"deviceId"`
	SwitchID      string        `json:"switchId"`
	CommandID     string        `json:"commandId"`
	Type          string        `json:"type"`
	RemoteDesired bool          `json:"remoteDesired"`
	ManualActual  bool          `json:"manualActual"`
	Resolution    string        `json:"resolution"`
	ResponseTime  time.Duration `json:"-"`
	DetectedBy    string        `json:"detectedBy,omitempty"`
	PhysicalPin   *int          `json:"physicalPin,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// MarshalJSON renders ResponseTime as whole milliseconds.
func (r ConflictRecord) MarshalJSON() ([]byte, error) {
	type plain ConflictRecord
	return json.Marshal(struct {
		plain
		ResponseTimeMs int64 `json:"responseTimeMs"`
	}{plain(r), r.ResponseTime.Milliseconds()})
}

// ConflictFilter narrows Conflicts. Zero fields match everything.
type ConflictFilter struct {
	DeviceID string
	SwitchID string
	Since    time.Time
	Limit    int
}

// ManualReport is a physical toggle reported by a device.
type ManualReport struct {
	DeviceID string
	// SwitchID, when set, names the switch directly; otherwise GPIO is
	// matched against output pins and then manual input pins.
	SwitchID      string
	GPIO          int
	Action        string
	PreviousState bool
	NewState      bool
	DetectedBy    string
	PhysicalPin   *int
	Timestamp     time.Time
}

// Notifier is told about terminal command transitions and conflicts. Calls
// may happen with dispatcher locks held and must not block.
type Notifier interface {
	CommandCompleted(cmd Command)
	ConflictDetected(rec ConflictRecord)
}

// Logger defines the logging interface used by the command package.
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
