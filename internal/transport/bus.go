package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/relay-core/internal/device"
	"github.com/nerrad567/relay-core/internal/infrastructure/mqtt"
)

// BusTransportName is the device.Transport name of bus-attached boards.
const BusTransportName = "bus"

// Bus is the pub/sub client the bus transport runs on. *mqtt.Client and
// *natsbus.Client implement it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	Unsubscribe(topic string) error
}

// BusTransport serves boards on per-MAC topics:
//
//	{prefix}/relay/{mac}/identify   JSON identify
//	{prefix}/relay/{mac}/state      "relay1:on,relay2:off"
//	{prefix}/relay/{mac}/manual     JSON manual_switch
//	{prefix}/relay/{mac}/heartbeat  anything
//	{prefix}/relay/{mac}/command    outbound "relay1:on"
type BusTransport struct {
	bus      Bus
	topics   mqtt.Topics
	handler  *Handler
	registry Registry
	qos      byte
	logger   Logger

	mu    sync.Mutex
	links map[string]*busLink
}

// NewBusTransport creates a bus transport. Call Start to subscribe.
func NewBusTransport(bus Bus, topics mqtt.Topics, handler *Handler, registry Registry, qos byte) *BusTransport {
	return &BusTransport{
		bus:      bus,
		topics:   topics,
		handler:  handler,
		registry: registry,
		qos:      qos,
		logger:   noopLogger{},
		links:    make(map[string]*busLink),
	}
}

// SetLogger sets the logger for the bus transport.
func (b *BusTransport) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

func (b *BusTransport) inboundKinds() []string {
	return []string{mqtt.KindIdentify, mqtt.KindState, mqtt.KindManual, mqtt.KindHeartbeat}
}

// Start subscribes to every inbound relay topic. ctx is used for the
// registry and dispatcher calls made from message handlers.
func (b *BusTransport) Start(ctx context.Context) error {
	for _, kind := range b.inboundKinds() {
		topic := b.topics.AllRelay(kind)
		if err := b.bus.Subscribe(topic, b.qos, func(topic string, payload []byte) error {
			return b.handle(ctx, topic, payload)
		}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	b.logger.Info("bus transport started", "subscriptions", len(b.inboundKinds()))
	return nil
}

// Stop drops the relay subscriptions.
func (b *BusTransport) Stop() {
	for _, kind := range b.inboundKinds() {
		if err := b.bus.Unsubscribe(b.topics.AllRelay(kind)); err != nil {
			b.logger.Debug("bus unsubscribe failed", "kind", kind, "error", err)
		}
	}
}

func (b *BusTransport) handle(ctx context.Context, topic string, payload []byte) error {
	mac, kind, ok := b.topics.ParseRelay(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrMalformed, topic)
	}

	if kind == mqtt.KindIdentify {
		return b.identify(ctx, mac, payload)
	}

	deviceID, err := b.registry.ResolveMAC(mac)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return fmt.Errorf("%w: %s", ErrNotIdentified, mac)
		}
		return err
	}

	var msg Message
	switch kind {
	case mqtt.KindState:
		switches, err := ParseState(string(payload))
		if err != nil {
			return err
		}
		msg = State{Switches: switches}
	case mqtt.KindManual:
		msg, err = DecodeType(TypeManualSwitch, payload)
	case mqtt.KindHeartbeat:
		msg = Heartbeat{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, kind)
	}
	if err != nil {
		return err
	}
	return b.handler.Handle(ctx, deviceID, msg)
}

// identify registers the board behind mac. The topic MAC wins over the
// payload's.
func (b *BusTransport) identify(ctx context.Context, mac string, payload []byte) error {
	var ident Identify
	if err := json.Unmarshal(payload, &ident); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ident.MAC = mac
	if err := ident.validate(); err != nil {
		return fmt.Errorf("%w: identify: %v", ErrInvalidMessage, err)
	}

	dev, err := b.handler.Identify(ctx, ident, b.link(mac))
	if err != nil {
		b.logger.Warn("bus identify rejected", "mac", mac, "error", err)
		return err
	}
	b.logger.Debug("bus device identified", "device_id", dev.ID, "mac", mac)
	return nil
}

// link returns the stable transport handle for mac, so repeated identifies
// from the same board keep the same handle.
func (b *BusTransport) link(mac string) *busLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.links[mac]
	if !ok {
		l = &busLink{transport: b, mac: mac}
		b.links[mac] = l
	}
	return l
}

// busLink is the device.Transport for one bus-attached board.
type busLink struct {
	transport *BusTransport
	mac       string
}

func (l *busLink) Name() string { return BusTransportName }

// Send publishes "<switchId>:<on|off>". Bus boards answer with a state
// report, which the dispatcher treats as the acknowledgement.
func (l *busLink) Send(_ context.Context, cmd device.PushCommand) error {
	b := l.transport
	return b.bus.Publish(b.topics.RelayCommand(l.mac), []byte(FormatCommand(cmd.SwitchID, cmd.State)), b.qos, false)
}

// FormatCommand renders the bus command payload.
func FormatCommand(switchID string, state bool) string {
	return switchID + ":" + stateWord(state)
}

// ParseState parses "relay1:on,relay2:off". Values may be on/off, 1/0 or
// true/false.
func ParseState(payload string) ([]SwitchState, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty state report", ErrMalformed)
	}

	parts := strings.Split(payload, ",")
	if len(parts) > maxSwitches {
		return nil, fmt.Errorf("%w: at most %d switches", ErrInvalidMessage, maxSwitches)
	}
	out := make([]SwitchState, 0, len(parts))
	for _, part := range parts {
		name, value, ok := strings.Cut(strings.TrimSpace(part), ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: state entry %q", ErrMalformed, part)
		}
		state, err := parseStateWord(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		out = append(out, SwitchState{SwitchID: name, State: state})
	}
	return out, nil
}

func stateWord(state bool) string {
	if state {
		return "on"
	}
	return "off"
}

func parseStateWord(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: state value %q", ErrMalformed, v)
}
