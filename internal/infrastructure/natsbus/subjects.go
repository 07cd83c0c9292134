package natsbus

import "strings"

// ToSubject converts a slash-separated topic (with MQTT wildcards) to a NATS subject.
//
//	ToSubject("relaycore/relay/+/state") == "relaycore.relay.*.state"
func ToSubject(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

// FromSubject converts a concrete NATS subject back to topic form.
func FromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
