package nats

import (
	"strings"
)

var (
	toSubject = strings.NewReplacer("+", "*", "#", ">", "/", ".")
	toTopic   = strings.NewReplacer("*", "+", ">", "#", ".", "/")
)

// ToNATSSubject converts an MQTT topic or filter to a NATS subject.
// MQTT uses / as separators and +/# as wildcards; NATS uses . and */>.
func ToNATSSubject(mqttTopic string) string {
	return toSubject.Replace(mqttTopic)
}

// ToMQTTTopic converts a NATS subject back to MQTT form
func ToMQTTTopic(natsSubject string) string {
	return toTopic.Replace(natsSubject)
}
