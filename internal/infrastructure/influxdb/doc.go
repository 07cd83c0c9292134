// Package influxdb writes Relay Core telemetry to InfluxDB v2.
//
// Every accepted switch change, connectivity transition and manual override
// conflict becomes one point. Writes are batched and non-blocking; async
// failures are reported through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
package influxdb
