package nats

import (
	"context"

	"mqtt-exerciser/internal/broker"
)

// PublisherImpl implements the Publisher interface for NATS
type PublisherImpl struct {
	transport *Transport
}

// NewPublisher creates a new NATS publisher
func NewPublisher(t *Transport) Publisher {
	return &PublisherImpl{transport: t}
}

// Publish sends a message to the subject mapped from its topic. QoS above 0
// flushes so a send error surfaces before returning. NATS has no packet ids.
func (p *PublisherImpl) Publish(ctx context.Context, msg broker.Message) (uint16, error) {
	conn := p.transport.conn
	if !conn.IsConnected() {
		return 0, broker.ErrNotConnected
	}

	subject := ToNATSSubject(msg.Topic)
	nc := conn.GetConnection()
	if err := nc.Publish(subject, msg.Payload); err != nil {
		p.transport.logger.Debug("failed to publish message",
			"error", err,
			"topic", msg.Topic,
			"subject", subject)
		return 0, err
	}

	if msg.QoS > 0 {
		if err := nc.FlushWithContext(ctx); err != nil {
			return 0, err
		}
	}
	return 0, nil
}
