package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nerrad567/relay-core/internal/command"
)

type fakeSink struct {
	switches      []string
	connectivity  []bool
	conflictTimes []time.Duration
}

func (s *fakeSink) WriteSwitchState(deviceID, switchID string, _ bool, _ uint64, _ string, _ time.Time) {
	s.switches = append(s.switches, deviceID+"/"+switchID)
}

func (s *fakeSink) WriteConnectivity(_ string, online bool, _ string, _ time.Time) {
	s.connectivity = append(s.connectivity, online)
}

func (s *fakeSink) WriteConflict(_, _ string, responseTime time.Duration, _ time.Time) {
	s.conflictTimes = append(s.conflictTimes, responseTime)
}

func TestTelemetry_WritesLiveEventsOnly(t *testing.T) {
	sink := &fakeSink{}
	obs := NewTelemetry(sink)

	obs.Notify(Event{Type: EventSwitchState, Snapshot: true, Switch: &SwitchState{DeviceID: "d", SwitchID: "s0"}})
	obs.Notify(Event{Type: EventSwitchState, Switch: &SwitchState{DeviceID: "d", SwitchID: "s1"}})
	obs.Notify(Event{Type: EventConnectivity, Connectivity: &Connectivity{DeviceID: "d", Online: true}})
	obs.Notify(Event{Type: EventConflict, Conflict: &command.ConflictRecord{DeviceID: "d", ResponseTime: time.Second}})
	obs.Notify(Event{Type: EventCommandResult, Command: &command.Command{ID: "c"}})

	assert.Equal(t, []string{"d/s1"}, sink.switches)
	assert.Equal(t, []bool{true}, sink.connectivity)
	assert.Equal(t, []time.Duration{time.Second}, sink.conflictTimes)
}
