// Package mqtt adapts the Eclipse Paho MQTT 3.1.1 client to broker.Transport.
package mqtt

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-exerciser/internal/broker"
	"mqtt-exerciser/internal/logger"
)

// Transport implements broker.Transport for MQTT 3.1.1
type Transport struct {
	opts   broker.DialOptions
	logger *logger.Logger

	conn ConnectionManager
	sub  SubscriptionManager
	pub  Publisher
}

// NewDialer returns a dialer creating paho clients
func NewDialer() broker.Dialer {
	return broker.DialerFunc(func(opts broker.DialOptions) (broker.Transport, error) {
		return NewTransport(opts, mqtt.NewClient)
	})
}

// NewTransport builds the client options and the client. newClient is
// mqtt.NewClient outside tests.
func NewTransport(opts broker.DialOptions, newClient func(*mqtt.ClientOptions) mqtt.Client) (*Transport, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("broker address is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	t := &Transport{
		opts:   opts,
		logger: log,
	}

	// Initialize connection manager first
	cm := newConnectionManager(t)
	t.conn = cm

	// Subscription manager receives messages once the client exists
	t.sub = NewSubscriptionManager(t)
	t.pub = NewPublisher(t)

	cm.client = newClient(cm.clientOptions())
	return t, nil
}

// Connect implements broker.Transport
func (t *Transport) Connect(ctx context.Context) (broker.ConnAck, error) {
	return t.conn.Connect(ctx)
}

// Publish implements broker.Transport
func (t *Transport) Publish(ctx context.Context, msg broker.Message) (uint16, error) {
	return t.pub.Publish(ctx, msg)
}

// Subscribe implements broker.Transport
func (t *Transport) Subscribe(ctx context.Context, filter string, qos byte) (broker.SubAck, error) {
	return t.sub.Subscribe(ctx, filter, qos)
}

// Disconnect implements broker.Transport
func (t *Transport) Disconnect(ctx context.Context) error {
	t.conn.Disconnect()
	return nil
}

// waitToken blocks until the token completes or ctx ends.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
