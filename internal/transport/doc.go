// Package transport connects relay boards to the core.
//
// Two transports carry the same inbound messages. The push channel is a
// WebSocket held open by the board: the first frame must identify it, after
// which the session is the board's device.Transport until it closes. The bus
// transport serves boards that cannot hold a connection: they publish to
// per-MAC topics on MQTT or NATS and receive plain "relay1:on" commands.
//
// Every inbound payload is decoded by Decode into one of the concrete
// message types and validated before anything reaches the registry or the
// dispatcher. The Handler routes decoded messages for both transports.
//
// StatePublisher is a broadcast observer that mirrors accepted switch
// state to retained core topics on the bus.
package transport
