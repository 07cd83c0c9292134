package transport

import (
	"encoding/json"

	"github.com/nerrad567/relay-core/internal/broadcast"
	"github.com/nerrad567/relay-core/internal/infrastructure/mqtt"
)

// StatePublisher mirrors fanout events onto core bus topics. Switch state
// and connectivity are retained so late subscribers see current values;
// conflicts and command results are plain events.
type StatePublisher struct {
	bus    Bus
	topics mqtt.Topics
	qos    byte
	logger Logger
}

// NewStatePublisher creates a publisher. Subscribe it to the fanout.
func NewStatePublisher(bus Bus, topics mqtt.Topics, qos byte) *StatePublisher {
	return &StatePublisher{bus: bus, topics: topics, qos: qos, logger: noopLogger{}}
}

// SetLogger sets the logger for the publisher.
func (p *StatePublisher) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Notify implements broadcast.Observer.
func (p *StatePublisher) Notify(ev broadcast.Event) {
	var topic string
	retained := false
	switch {
	case ev.Switch != nil:
		topic = p.topics.CoreSwitchState(ev.Switch.DeviceID, ev.Switch.SwitchID)
		retained = true
	case ev.Connectivity != nil:
		topic = p.topics.CoreConnectivity(ev.Connectivity.DeviceID)
		retained = true
	case ev.Conflict != nil, ev.Command != nil:
		if ev.Snapshot {
			return
		}
		topic = p.topics.CoreEvent(string(ev.Type))
	default:
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encoding core event failed", "type", ev.Type, "error", err)
		return
	}
	if err := p.bus.Publish(topic, payload, p.qos, retained); err != nil {
		p.logger.Warn("publishing core event failed", "topic", topic, "error", err)
	}
}
