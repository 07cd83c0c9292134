// Package config loads and validates the Relay Core configuration.
//
// Load reads YAML over the built-in defaults, applies RELAYCORE_* environment
// overrides, then runs Validate, which reports every problem at once rather
// than stopping at the first. Durations (heartbeat timeout, ack timeout,
// queue TTL, conflict window) are YAML duration strings such as "90s".
//
// Broker passwords and the InfluxDB token belong in the environment, not in
// a committed file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//	executor := schedule.NewExecutor(repo, dispatcher, registry, schedule.Options{
//	    Location: cfg.Location(),
//	})
package config
