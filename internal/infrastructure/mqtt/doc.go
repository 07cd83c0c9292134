// Package mqtt provides MQTT connectivity for the Relay Core device bus.
//
// Relay boards that cannot hold a persistent push connection talk to the
// core through a broker:
//
//	relaycore/relay/{mac}/command    core → device, "relay1:on"
//	relaycore/relay/{mac}/state      device → core, "relay1:on,relay2:off"
//	relaycore/relay/{mac}/identify   device → core, JSON
//	relaycore/relay/{mac}/manual     device → core, JSON manual_switch
//	relaycore/relay/{mac}/heartbeat  device → core
//
// The core also publishes retained per-switch state under
// relaycore/core/device/{id}/switch/{switchId}/state and its own status
// (with LWT) under relaycore/system/status.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Topics{Prefix: cfg.Bus.TopicPrefix})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllRelay(mqtt.KindState), 1,
//	    func(topic string, payload []byte) error {
//	        mac, _, _ := client.Topics().ParseRelay(topic)
//	        return handleState(mac, payload)
//	    })
//
// TLS should be enabled outside local development (cfg.Broker.TLS=true).
package mqtt
