package exerciser

import (
	"fmt"

	"mqtt-exerciser/config"
	"mqtt-exerciser/internal/broker"
	"mqtt-exerciser/internal/broker/loopback"
	"mqtt-exerciser/internal/broker/mqtt"
	"mqtt-exerciser/internal/broker/mqtt5"
	"mqtt-exerciser/internal/broker/nats"
)

// NewDialer returns the dialer for protocol. Loopback clients connect to lb,
// or to a fresh in-process broker when lb is nil.
func NewDialer(protocol string, lb *loopback.Broker) (broker.Dialer, error) {
	switch protocol {
	case config.ProtocolMQTT5:
		return mqtt5.NewDialer(), nil
	case config.ProtocolMQTT311:
		return mqtt.NewDialer(), nil
	case config.ProtocolNATS:
		return nats.NewDialer(), nil
	case config.ProtocolLoopback:
		if lb == nil {
			lb = loopback.NewBroker()
		}
		return lb.Dialer(), nil
	default:
		return nil, fmt.Errorf("%w: %s", broker.ErrUnknownProtocol, protocol)
	}
}
