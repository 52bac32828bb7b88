package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-exerciser/internal/broker"
)

const resubscribeTimeout = 5 * time.Second

// SubscriptionManagerImpl implements the SubscriptionManager interface
type SubscriptionManagerImpl struct {
	transport *Transport
	topics    map[string]byte // filter -> QoS
	mu        sync.RWMutex
}

// NewSubscriptionManager creates a new subscription manager
func NewSubscriptionManager(t *Transport) SubscriptionManager {
	return &SubscriptionManagerImpl{
		transport: t,
		topics:    make(map[string]byte),
	}
}

// Subscribe subscribes to filter and remembers it for reconnects
func (s *SubscriptionManagerImpl) Subscribe(ctx context.Context, filter string, qos byte) (broker.SubAck, error) {
	conn := s.transport.conn
	if !conn.IsConnected() {
		return broker.SubAck{}, broker.ErrNotConnected
	}

	token := conn.GetClient().Subscribe(filter, qos, s.HandleMessage)
	if err := waitToken(ctx, token); err != nil {
		return broker.SubAck{}, fmt.Errorf("failed to subscribe to topic %s: %w", filter, err)
	}

	granted := []byte{qos}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if g, found := st.Result()[filter]; found {
			granted = []byte{g}
		}
	}

	s.mu.Lock()
	s.topics[filter] = qos
	s.mu.Unlock()

	s.transport.logger.Debug("subscribed to topic", "topic", filter)
	return broker.SubAck{GrantedQoS: granted}, nil
}

// HandleMessage forwards a received message to the dial options
func (s *SubscriptionManagerImpl) HandleMessage(client mqtt.Client, msg mqtt.Message) {
	s.transport.opts.DeliverMessage(broker.Message{
		Topic:     msg.Topic(),
		QoS:       msg.Qos(),
		Payload:   msg.Payload(),
		Retained:  msg.Retained(),
		MessageID: msg.MessageID(),
	})
}

// ResubscribeAll restores every subscription after a reconnect
func (s *SubscriptionManagerImpl) ResubscribeAll() error {
	s.mu.RLock()
	topics := make(map[string]byte, len(s.topics))
	for topic, qos := range s.topics {
		topics[topic] = qos
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), resubscribeTimeout)
	defer cancel()

	client := s.transport.conn.GetClient()
	for topic, qos := range topics {
		token := client.Subscribe(topic, qos, s.HandleMessage)
		if err := waitToken(ctx, token); err != nil {
			return fmt.Errorf("failed to resubscribe to topic %s: %w", topic, err)
		}
	}
	return nil
}

// GetSubscribedTopics returns the remembered filters in sorted order
func (s *SubscriptionManagerImpl) GetSubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
