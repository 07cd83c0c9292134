package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of the Relay Core topic tree.
const DefaultTopicPrefix = "relaycore"

// Relay topic kinds. Each device owns one topic per kind under
// {prefix}/relay/{mac}/{kind}.
const (
	KindCommand   = "command"
	KindState     = "state"
	KindIdentify  = "identify"
	KindManual    = "manual"
	KindHeartbeat = "heartbeat"
)

// relayTopicParts is the number of segments in {prefix}/relay/{mac}/{kind}.
const relayTopicParts = 4

// Topics builds Relay Core topic names. The zero value uses DefaultTopicPrefix.
//
//	topics := mqtt.Topics{Prefix: cfg.Bus.TopicPrefix}
//	topics.RelayCommand("a4:cf:12:0b:88:01")
//	// Returns: "relaycore/relay/a4:cf:12:0b:88:01/command"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// Relay device topics
// =============================================================================

// Relay returns {prefix}/relay/{mac}/{kind}.
func (t Topics) Relay(mac, kind string) string {
	return fmt.Sprintf("%s/relay/%s/%s", t.prefix(), mac, kind)
}

// RelayCommand is where outbound "<relayName>:<state>" commands are published.
func (t Topics) RelayCommand(mac string) string { return t.Relay(mac, KindCommand) }

// RelayState carries inbound "relay1:on,relay2:off" reports.
func (t Topics) RelayState(mac string) string { return t.Relay(mac, KindState) }

// RelayIdentify carries device identification JSON.
func (t Topics) RelayIdentify(mac string) string { return t.Relay(mac, KindIdentify) }

// RelayManual carries manual_switch JSON reports.
func (t Topics) RelayManual(mac string) string { return t.Relay(mac, KindManual) }

// RelayHeartbeat carries keepalive messages.
func (t Topics) RelayHeartbeat(mac string) string { return t.Relay(mac, KindHeartbeat) }

// AllRelay returns a single-level wildcard over every device for one kind.
//
// Example: relaycore/relay/+/state
func (t Topics) AllRelay(kind string) string {
	return fmt.Sprintf("%s/relay/+/%s", t.prefix(), kind)
}

// ParseRelay splits a concrete relay topic into MAC and kind.
// It returns ok=false for topics outside {prefix}/relay/.
func (t Topics) ParseRelay(topic string) (mac, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != relayTopicParts || parts[0] != t.prefix() || parts[1] != "relay" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// =============================================================================
// Core topics
// =============================================================================

// CoreSwitchState returns the retained state topic for one switch.
//
// Example: relaycore/core/device/dev-1/switch/relay1/state
func (t Topics) CoreSwitchState(deviceID, switchID string) string {
	return fmt.Sprintf("%s/core/device/%s/switch/%s/state", t.prefix(), deviceID, switchID)
}

// CoreConnectivity returns the retained connectivity topic for a device.
func (t Topics) CoreConnectivity(deviceID string) string {
	return fmt.Sprintf("%s/core/device/%s/connectivity", t.prefix(), deviceID)
}

// CoreEvent returns the topic for non-state core events (conflicts, command results).
func (t Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/core/event/%s", t.prefix(), eventType)
}

// SystemStatus is the retained online/offline status of this process (also the LWT topic).
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
