package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/relay-core/internal/command"
	"github.com/nerrad567/relay-core/internal/device"
)

// ErrNotIdentified is returned for messages that arrive before a session
// has identified, or for a MAC the registry does not know.
var ErrNotIdentified = errors.New("transport: device not identified")

// Registry is the part of device.Registry the transports use.
type Registry interface {
	Identify(ctx context.Context, ident device.Identification, handle device.Transport) (*device.Device, error)
	Heartbeat(ctx context.Context, deviceID string) error
	Detach(ctx context.Context, deviceID string, handle device.Transport)
	ResolveMAC(mac string) (string, error)
}

// Commands is the part of command.Dispatcher the transports use.
type Commands interface {
	HandleAck(ctx context.Context, deviceID, switchID string, seq uint64, state bool) (bool, error)
	HandleStateReport(ctx context.Context, deviceID, switchID string, state bool) error
}

// ManualReports is implemented by command.Resolver.
type ManualReports interface {
	HandleManualReport(ctx context.Context, rep command.ManualReport) (*command.ConflictRecord, error)
}

// Handler routes decoded device messages into the core. It is shared by
// the push and bus transports.
type Handler struct {
	registry Registry
	commands Commands
	manual   ManualReports
	logger   Logger
}

// NewHandler creates a Handler.
func NewHandler(registry Registry, commands Commands, manual ManualReports) *Handler {
	return &Handler{
		registry: registry,
		commands: commands,
		manual:   manual,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the handler.
func (h *Handler) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Identify registers the device behind handle.
func (h *Handler) Identify(ctx context.Context, msg Identify, handle device.Transport) (*device.Device, error) {
	return h.registry.Identify(ctx, msg.Identification(), handle)
}

// Handle applies one post-identify message from deviceID.
func (h *Handler) Handle(ctx context.Context, deviceID string, msg Message) error {
	switch m := msg.(type) {
	case Heartbeat:
		return h.registry.Heartbeat(ctx, deviceID)

	case Ack:
		applied, err := h.commands.HandleAck(ctx, deviceID, m.SwitchID, m.Seq, m.State)
		if err != nil {
			return err
		}
		if !applied {
			h.logger.Debug("stale ack ignored", "device_id", deviceID, "switch_id", m.SwitchID, "seq", m.Seq)
		}
		return h.registry.Heartbeat(ctx, deviceID)

	case ManualSwitch:
		_, err := h.manual.HandleManualReport(ctx, manualReport(deviceID, m))
		return err

	case State:
		var errs []error
		for _, s := range m.Switches {
			if err := h.commands.HandleStateReport(ctx, deviceID, s.SwitchID, s.State); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.SwitchID, err))
			}
		}
		return errors.Join(errs...)

	case Identify:
		return fmt.Errorf("%w: already identified", ErrInvalidMessage)
	}
	return fmt.Errorf("%w: %s", ErrUnknownType, msg.Type())
}

func manualReport(deviceID string, m ManualSwitch) command.ManualReport {
	gpio := -1
	if m.GPIO != nil {
		gpio = *m.GPIO
	}
	return command.ManualReport{
		DeviceID:      deviceID,
		SwitchID:      m.SwitchID,
		GPIO:          gpio,
		Action:        m.Action,
		PreviousState: m.PreviousState,
		NewState:      m.NewState,
		DetectedBy:    m.DetectedBy,
		PhysicalPin:   m.PhysicalPin,
		Timestamp:     m.Timestamp,
	}
}

// Logger defines the logging interface used by the transport package.
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
