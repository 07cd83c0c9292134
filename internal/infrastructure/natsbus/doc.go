// Package natsbus connects Relay Core to a NATS server as an alternative to
// the MQTT broker for the device bus.
//
// Callers keep using slash-separated topic names built by mqtt.Topics; the
// client maps them onto NATS subjects ("/" → ".", "+" → "*", "#" → ">")
// and maps subjects back before invoking handlers. NATS has no retained
// messages or QoS, so both arguments are accepted and ignored.
package natsbus
