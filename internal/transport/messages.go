package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/relay-core/internal/device"
)

// Message types carried in the "type" field.
const (
	TypeIdentify     = "identify"
	TypeHeartbeat    = "heartbeat"
	TypeAck          = "ack"
	TypeManualSwitch = "manual_switch"
	TypeState        = "state"

	TypeIdentifyAck    = "identify_ack"
	TypeIdentifyReject = "identify_reject"
	TypeCommand        = "command"
)

// maxSwitches bounds the switch list of an identify or state message.
const maxSwitches = 64

var (
	// ErrMalformed is returned for payloads that are not a JSON object with a
	// string type field, or whose body does not match the type.
	ErrMalformed = errors.New("transport: malformed message")

	// ErrUnknownType is returned for a well-formed message of an unknown type.
	ErrUnknownType = errors.New("transport: unknown message type")

	// ErrInvalidMessage is returned when a decoded message fails validation.
	ErrInvalidMessage = errors.New("transport: invalid message")
)

// Message is implemented by every inbound message type.
type Message interface {
	Type() string
	validate() error
}

// Identify opens a session.
type Identify struct {
	MAC      string                    `json:"mac"`
	Secret   string                    `json:"deviceSecret"`
	Name     string                    `json:"name,omitempty"`
	Switches []device.SwitchDefinition `json:"switches,omitempty"`
}

func (Identify) Type() string { return TypeIdentify }

func (m Identify) validate() error {
	if m.MAC == "" {
		return errors.New("mac is required")
	}
	if m.Secret == "" {
		return errors.New("deviceSecret is required")
	}
	if len(m.Switches) > maxSwitches {
		return fmt.Errorf("at most %d switches", maxSwitches)
	}
	return nil
}

// Identification converts the message for device.Registry.Identify.
func (m Identify) Identification() device.Identification {
	return device.Identification{MAC: m.MAC, Secret: m.Secret, Name: m.Name, Switches: m.Switches}
}

// Heartbeat is a keepalive.
type Heartbeat struct {
	MAC string `json:"mac,omitempty"`
}

func (Heartbeat) Type() string    { return TypeHeartbeat }
func (Heartbeat) validate() error { return nil }

// Ack confirms a pushed command.
type Ack struct {
	SwitchID  string `json:"switchId"`
	Seq       uint64 `json:"seq"`
	State     bool   `json:"state"`
	CommandID string `json:"commandId,omitempty"`
}

func (Ack) Type() string { return TypeAck }

func (m Ack) validate() error {
	if m.SwitchID == "" {
		return errors.New("switchId is required")
	}
	if m.Seq == 0 {
		return errors.New("seq must be positive")
	}
	return nil
}

// ManualSwitch reports a physical switch operation.
type ManualSwitch struct {
	MAC           string    `json:"mac,omitempty"`
	SwitchID      string    `json:"switchId,omitempty"`
	GPIO          *int      `json:"gpio,omitempty"`
	Action        string    `json:"action,omitempty"`
	PreviousState bool      `json:"previousState"`
	NewState      bool      `json:"newState"`
	DetectedBy    string    `json:"detectedBy,omitempty"`
	PhysicalPin   *int      `json:"physicalPin,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitzero"`
}

func (ManualSwitch) Type() string { return TypeManualSwitch }

func (m ManualSwitch) validate() error {
	if m.SwitchID == "" && m.GPIO == nil {
		return errors.New("switchId or gpio is required")
	}
	if m.GPIO != nil && *m.GPIO < 0 {
		return errors.New("gpio must not be negative")
	}
	return nil
}

// SwitchState is one entry of a state report.
type SwitchState struct {
	SwitchID string `json:"switchId"`
	State    bool   `json:"state"`
}

// State is an unsolicited state report without sequence numbers.
type State struct {
	Switches []SwitchState `json:"switches"`
}

func (State) Type() string { return TypeState }

func (m State) validate() error {
	if len(m.Switches) == 0 {
		return errors.New("at least one switch is required")
	}
	if len(m.Switches) > maxSwitches {
		return fmt.Errorf("at most %d switches", maxSwitches)
	}
	for _, s := range m.Switches {
		if s.SwitchID == "" {
			return errors.New("switchId is required")
		}
	}
	return nil
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses and validates one inbound JSON message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return DecodeType(env.Type, data)
}

// DecodeType parses data as a message of type typ. Bus topics name the type,
// so their payloads may omit the type field.
func DecodeType(typ string, data []byte) (Message, error) {
	var msg Message
	var err error
	switch typ {
	case TypeIdentify:
		msg, err = decodeAs[Identify](data)
	case TypeHeartbeat:
		if len(data) == 0 {
			return Heartbeat{}, nil
		}
		msg, err = decodeAs[Heartbeat](data)
	case TypeAck:
		msg, err = decodeAs[Ack](data)
	case TypeManualSwitch:
		msg, err = decodeAs[ManualSwitch](data)
	case TypeState:
		msg, err = decodeState(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, typ, err)
	}
	return msg, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// decodeState accepts either a switches list or a single switchId/state pair.
func decodeState(data []byte) (Message, error) {
	var raw struct {
		Switches []SwitchState `json:"switches"`
		SwitchID string        `json:"switchId"`
		State    *bool         `json:"state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m := State{Switches: raw.Switches}
	if raw.SwitchID != "" && raw.State != nil {
		m.Switches = append(m.Switches, SwitchState{SwitchID: raw.SwitchID, State: *raw.State})
	}
	return m, nil
}

// Outbound frames.

type identifyAck struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

type identifyReject struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type commandFrame struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
	SwitchID  string `json:"switchId"`
	State     bool   `json:"state"`
	Seq       uint64 `json:"seq"`
}

func newCommandFrame(cmd device.PushCommand) commandFrame {
	return commandFrame{
		Type:      TypeCommand,
		CommandID: cmd.CommandID,
		SwitchID:  cmd.SwitchID,
		State:     cmd.State,
		Seq:       cmd.Seq,
	}
}
