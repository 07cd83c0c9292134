package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by Relay Core.
const (
	MeasurementSwitchState  = "switch_state"
	MeasurementConnectivity = "device_connectivity"
	MeasurementConflict     = "manual_conflict"
)

// WriteSwitchState records an accepted switch state change.
//
//	client.WriteSwitchState("dev-1", "relay1", true, 42, "manual", time.Now())
func (c *Client) WriteSwitchState(deviceID, switchID string, on bool, seq uint64, source string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(
		MeasurementSwitchState,
		map[string]string{
			"device_id": deviceID,
			"switch_id": switchID,
			"source":    source,
		},
		map[string]any{
			"on":  boolToInt(on),
			"seq": int64(seq), // #nosec G115 -- per-switch counters stay far below MaxInt64
		},
		at,
	))
}

// WriteConnectivity records a device going online (1) or offline (0).
func (c *Client) WriteConnectivity(deviceID string, online bool, transport string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	tags := map[string]string{"device_id": deviceID}
	if transport != "" {
		tags["transport"] = transport
	}
	c.writer.WritePoint(write.NewPoint(
		MeasurementConnectivity,
		tags,
		map[string]any{"online": boolToInt(online)},
		at,
	))
}

// WriteConflict records a manual override that beat a remote command.
func (c *Client) WriteConflict(deviceID, switchID string, responseTime time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(
		MeasurementConflict,
		map[string]string{
			"device_id": deviceID,
			"switch_id": switchID,
		},
		map[string]any{"response_ms": responseTime.Milliseconds()},
		at,
	))
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
