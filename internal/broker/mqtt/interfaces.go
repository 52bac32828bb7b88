package mqtt

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-exerciser/internal/broker"
)

// ConnectionManager handles MQTT connection lifecycle
type ConnectionManager interface {
	Connect(ctx context.Context) (broker.ConnAck, error)
	Disconnect()
	IsConnected() bool
	GetClient() mqtt.Client
}

// SubscriptionManager handles topic subscriptions and message reception
type SubscriptionManager interface {
	Subscribe(ctx context.Context, filter string, qos byte) (broker.SubAck, error)
	HandleMessage(client mqtt.Client, msg mqtt.Message)
	ResubscribeAll() error
	GetSubscribedTopics() []string
}

// Publisher handles message publishing
type Publisher interface {
	Publish(ctx context.Context, msg broker.Message) (uint16, error)
}
