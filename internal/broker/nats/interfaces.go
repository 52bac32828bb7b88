package nats

import (
	"context"

	"github.com/nats-io/nats.go"

	"mqtt-exerciser/internal/broker"
)

// ConnectionManager handles NATS connection lifecycle
type ConnectionManager interface {
	Connect(ctx context.Context) (broker.ConnAck, error)
	Disconnect()
	IsConnected() bool
	GetConnection() *nats.Conn
}

// SubscriptionManager handles subject subscriptions and message reception
type SubscriptionManager interface {
	Subscribe(filter string, qos byte) (broker.SubAck, error)
	UnsubscribeAll() error
	GetSubscribedTopics() []string
}

// Publisher handles message publishing
type Publisher interface {
	Publish(ctx context.Context, msg broker.Message) (uint16, error)
}
