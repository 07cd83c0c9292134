package broadcast

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/device"
)

// EventType names the payload an Event carries.
type EventType string

const (
	EventSwitchState   EventType = "switch_state"
	EventConnectivity  EventType = "device_connectivity"
	EventConflict      EventType = "conflict"
	EventCommandResult EventType = "command_result"
)

// SwitchState is the payload of a switch_state event.
type SwitchState struct {
	DeviceID  string        `json:"deviceId"`
	SwitchID  string        `json:"switchId"`
	State     bool          `json:"state"`
	Seq       uint64        `json:"seq"`
	Source    device.Source `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
}

// Connectivity is the payload of a device_connectivity event.
type Connectivity struct {
	DeviceID  string    `json:"deviceId"`
	MAC       string    `json:"mac"`
	Online    bool      `json:"online"`
	Transport string    `json:"transport,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one message delivered to observers. Exactly one payload pointer
// is set, matching Type.
type Event struct {
	Type EventType
	// Snapshot marks events replayed from current state on subscribe.
	Snapshot bool

	Switch       *SwitchState
	Connectivity *Connectivity
	Conflict     *command.ConflictRecord
	Command      *command.Command
}

// DeviceID returns the device the event concerns.
func (e Event) DeviceID() string {
	switch {
	case e.Switch != nil:
		return e.Switch.DeviceID
	case e.Connectivity != nil:
		return e.Connectivity.DeviceID
	case e.Conflict != nil:
		return e.Conflict.DeviceID
	case e.Command != nil:
		return e.Command.DeviceID
	}
	return ""
}

// MarshalJSON flattens the payload next to the type tag:
//
//	{"type":"switch_state","deviceId":"relay-a4cf120b8801","switchId":"relay1","state":true,"seq":5,...}
func (e Event) MarshalJSON() ([]byte, error) {
	head := struct {
		Type     EventType `json:"type"`
		Snapshot bool      `json:"snapshot,omitempty"`
	}{e.Type, e.Snapshot}

	switch {
	case e.Switch != nil:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Snapshot bool      `json:"snapshot,omitempty"`
			*SwitchState
		}{head.Type, head.Snapshot, e.Switch})
	case e.Connectivity != nil:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Snapshot bool      `json:"snapshot,omitempty"`
			*Connectivity
		}{head.Type, head.Snapshot, e.Connectivity})
	case e.Conflict != nil:
		return json.Marshal(struct {
			Type     EventType               `json:"type"`
			Conflict *command.ConflictRecord `json:"conflict"`
		}{e.Type, e.Conflict})
	case e.Command != nil:
		return json.Marshal(struct {
			Type    EventType        `json:"type"`
			Command *command.Command `json:"command"`
		}{e.Type, e.Command})
	}
	return json.Marshal(head)
}

func switchEvent(c device.StateChange) Event {
	return Event{Type: EventSwitchState, Switch: &SwitchState{
		DeviceID:  c.DeviceID,
		SwitchID:  c.SwitchID,
		State:     c.State,
		Seq:       c.Seq,
		Source:    c.Source,
		Timestamp: c.At,
	}}
}

func connectivityEvent(c device.ConnectivityChange) Event {
	return Event{Type: EventConnectivity, Connectivity: &Connectivity{
		DeviceID:  c.DeviceID,
		MAC:       c.MAC,
		Online:    c.Online,
		Transport: c.Transport,
		Timestamp: c.At,
	}}
}

// snapshotEvents renders current state as connectivity and switch events.
func snapshotEvents(devices []device.Device) []Event {
	var out []Event
	for _, d := range devices {
		out = append(out, Event{Type: EventConnectivity, Snapshot: true, Connectivity: &Connectivity{
			DeviceID:  d.ID,
			MAC:       d.MAC,
			Online:    d.Status == device.StatusOnline,
			Transport: d.Transport,
			Timestamp: d.LastSeen,
		}})
		for _, sw := range d.Switches {
			out = append(out, Event{Type: EventSwitchState, Snapshot: true, Switch: &SwitchState{
				DeviceID:  d.ID,
				SwitchID:  sw.ID,
				State:     sw.State,
				Seq:       sw.LastUpdateSeq,
				Source:    sw.LastSource,
				Timestamp: sw.UpdatedAt,
			}})
		}
	}
	return out
}
