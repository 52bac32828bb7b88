// Package nats adapts core NATS to broker.Transport. MQTT topics and filters
// are mapped to subjects; NATS core delivery is at-most-once, so every
// subscription is granted QoS 0.
package nats

import (
	"context"
	"fmt"

	"mqtt-exerciser/internal/broker"
	"mqtt-exerciser/internal/logger"
)

// Transport implements broker.Transport for NATS
type Transport struct {
	opts   broker.DialOptions
	logger *logger.Logger

	conn ConnectionManager
	sub  SubscriptionManager
	pub  Publisher
}

// NewDialer returns a dialer creating NATS connections
func NewDialer() broker.Dialer {
	return broker.DialerFunc(func(opts broker.DialOptions) (broker.Transport, error) {
		return NewTransport(opts)
	})
}

// NewTransport prepares a transport. Nothing is dialled until Connect.
func NewTransport(opts broker.DialOptions) (*Transport, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("no NATS server address provided")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	t := &Transport{opts: opts, logger: log}
	t.conn = NewConnectionManager(t)
	t.pub = NewPublisher(t)
	t.sub = NewSubscriptionManager(t)
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
	return t.sub.Subscribe(filter, qos)
}

// Disconnect drains subscriptions and closes the connection
func (t *Transport) Disconnect(ctx context.Context) error {
	if err := t.sub.UnsubscribeAll(); err != nil {
		t.logger.Debug("failed to unsubscribe", "error", err)
	}
	t.conn.Disconnect()
	return nil
}
