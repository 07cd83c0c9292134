package broadcast

import "time"

// TelemetrySink stores time-series points. *influxdb.Client implements it.
type TelemetrySink interface {
	WriteSwitchState(deviceID, switchID string, on bool, seq uint64, source string, at time.Time)
	WriteConnectivity(deviceID string, online bool, transport string, at time.Time)
	WriteConflict(deviceID, switchID string, responseTime time.Duration, at time.Time)
}

// Telemetry is an Observer that records live events as time-series points.
// Snapshot events are skipped; they repeat points already written.
type Telemetry struct {
	sink TelemetrySink
}

// NewTelemetry creates a telemetry observer writing to sink.
func NewTelemetry(sink TelemetrySink) *Telemetry {
	return &Telemetry{sink: sink}
}

// Notify implements Observer.
func (t *Telemetry) Notify(ev Event) {
	if ev.Snapshot {
		return
	}
	switch {
	case ev.Switch != nil:
		s := ev.Switch
		t.sink.WriteSwitchState(s.DeviceID, s.SwitchID, s.State, s.Seq, string(s.Source), s.Timestamp)
	case ev.Connectivity != nil:
		c := ev.Connectivity
		t.sink.WriteConnectivity(c.DeviceID, c.Online, c.Transport, c.Timestamp)
	case ev.Conflict != nil:
		c := ev.Conflict
		t.sink.WriteConflict(c.DeviceID, c.SwitchID, c.ResponseTime, c.CreatedAt)
	}
}
