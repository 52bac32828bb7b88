package mqtt

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-exerciser/internal/broker"
)

// PublisherImpl handles MQTT message publishing
type PublisherImpl struct {
	transport *Transport
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(t *Transport) Publisher {
	return &PublisherImpl{transport: t}
}

// Publish sends one message and waits for the library to complete it. The
// packet id is returned for QoS 1 and 2.
func (p *PublisherImpl) Publish(ctx context.Context, msg broker.Message) (uint16, error) {
	conn := p.transport.conn
	if !conn.IsConnected() {
		return 0, broker.ErrNotConnected
	}

	token := conn.GetClient().Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	if err := waitToken(ctx, token); err != nil {
		p.transport.logger.Debug("failed to publish message",
			"error", err,
			"topic", msg.Topic)
		return 0, err
	}

	if pt, ok := token.(*mqtt.PublishToken); ok {
		return pt.MessageID(), nil
	}
	return 0, nil
}
