package device

import (
	"context"
	"time"
)

// Status is a device's connection status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Source identifies which writer produced a switch state.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceManual   Source = "manual"
	SourceSchedule Source = "schedule"
	SourceSystem   Source = "system"
)

// ManualMode describes how a physical input drives its switch.
type ManualMode string

const (
	// ManualModeMaintained inputs follow a latching wall switch.
	ManualModeMaintained ManualMode = "maintained"
	// ManualModeMomentary inputs toggle on each press.
	ManualModeMomentary ManualMode = "momentary"
)

// Switch is one relay output owned by a Device.
type Switch struct {
	// ID is unique within the device and doubles as the relay name on the bus.
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	OutputPin  int        `json:"outputPin"`
	ManualPin  *int       `json:"manualPin,omitempty"`
	ManualMode ManualMode `json:"manualMode"`

	State         bool      `json:"state"`
	LastUpdateSeq uint64    `json:"lastUpdateSeq"`
	LastSource    Source    `json:"lastSource,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Device is a relay-controller board. It exclusively owns its switches.
type Device struct {
	ID     string `json:"id"`
	MAC    string `json:"mac"`
	Name   string `json:"name"`
	Status Status `json:"status"`

	// Transport names the channel the device is reachable on ("push" or
	// "bus"); empty while offline. The handle itself is never persisted.
	Transport string    `json:"transport,omitempty"`
	LastSeen  time.Time `json:"lastSeen"`
	Switches  []Switch  `json:"switches"`

	SecretHash string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeepCopy returns an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Switches != nil {
		cpy.Switches = make([]Switch, len(d.Switches))
		for i, sw := range d.Switches {
			cpy.Switches[i] = sw
			if sw.ManualPin != nil {
				pin := *sw.ManualPin
				cpy.Switches[i].ManualPin = &pin
			}
		}
	}
	return &cpy
}

// switchIndex returns the index of switch id, or -1.
func (d *Device) switchIndex(id string) int {
	for i := range d.Switches {
		if d.Switches[i].ID == id {
			return i
		}
	}
	return -1
}

// SwitchDefinition is the board-reported shape of a switch, without state.
type SwitchDefinition struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	OutputPin  int        `json:"outputPin"`
	ManualPin  *int       `json:"manualPin,omitempty"`
	ManualMode ManualMode `json:"manualMode,omitempty"`
}

// Identification is the payload of a device handshake.
type Identification struct {
	MAC    string
	Secret string
	Name   string

	// Switches, when non-empty, replaces the device's switch definitions.
	// State and sequence numbers of switches that keep their ID survive.
	Switches []SwitchDefinition
}

// PushCommand is what a Transport delivers to a board.
type PushCommand struct {
	CommandID string
	SwitchID  string
	State     bool
	Seq       uint64
}

// Transport is a live channel to one device.
type Transport interface {
	// Name is "push" or "bus".
	Name() string
	// Send delivers cmd. It returns once the frame is handed to the network;
	// the device acknowledges asynchronously.
	Send(ctx context.Context, cmd PushCommand) error
}

// ConnectionInfo is returned by Registry.Lookup.
type ConnectionInfo struct {
	DeviceID  string
	MAC       string
	Status    Status
	Transport Transport
	LastSeen  time.Time
}

// Online reports whether the device currently has a usable transport.
func (c ConnectionInfo) Online() bool {
	return c.Status == StatusOnline && c.Transport != nil
}

// Update is a proposed switch state change.
type Update struct {
	DeviceID string
	SwitchID string
	State    bool
	Seq      uint64
	Source   Source
	// At defaults to the synchronizer clock when zero.
	At time.Time
}

// StateChange is emitted for every accepted Update.
type StateChange struct {
	DeviceID string
	SwitchID string
	State    bool
	Previous bool
	Seq      uint64
	Source   Source
	At       time.Time
}

// ConnectivityChange is emitted when a device goes online or offline.
type ConnectivityChange struct {
	DeviceID  string
	MAC       string
	Online    bool
	Transport string
	At        time.Time
}

// ChangeSink receives accepted switch changes. It is called with the
// device's lock held, so implementations must not block or call back into
// the registry.
type ChangeSink interface {
	SwitchChanged(change StateChange)
}

// ConnectivitySink receives connectivity transitions under the same rules
// as ChangeSink.
type ConnectivitySink interface {
	ConnectivityChanged(change ConnectivityChange)
}

// HistoryEntry is one persisted switch change.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"deviceId"`
	SwitchID  string    `json:"switchId"`
	State     bool      `json:"state"`
	Seq       uint64    `json:"seq"`
	Source    Source    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}
