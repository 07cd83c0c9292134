// Package logging provides the structured logger shared by every Relay Core
// component.
//
// Logger embeds *slog.Logger, so it satisfies the small Logger interfaces
// that the device, command, schedule, broadcast and transport packages
// declare. Each entry carries the service name and build version.
//
// Configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	registry.SetLogger(log)
//	log.Info("device online", "device_id", id, "transport", "push")
//
// Device secrets and broker credentials must never be logged. Identify
// rejections log the MAC only.
package logging
