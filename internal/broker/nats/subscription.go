package nats

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"

	"mqtt-exerciser/internal/broker"
)

// SubscriptionManagerImpl implements SubscriptionManager for NATS
type SubscriptionManagerImpl struct {
	transport *Transport
	subs      map[string]*nats.Subscription
	mu        sync.RWMutex
}

// NewSubscriptionManager creates a new NATS subscription manager
func NewSubscriptionManager(t *Transport) SubscriptionManager {
	return &SubscriptionManagerImpl{
		transport: t,
		subs:      make(map[string]*nats.Subscription),
	}
}

// Subscribe subscribes to the subject mapped from filter
func (s *SubscriptionManagerImpl) Subscribe(filter string, qos byte) (broker.SubAck, error) {
	conn := s.transport.conn
	if !conn.IsConnected() {
		return broker.SubAck{}, broker.ErrNotConnected
	}

	subject := ToNATSSubject(filter)
	sub, err := conn.GetConnection().Subscribe(subject, s.handleMessage)
	if err != nil {
		return broker.SubAck{}, fmt.Errorf("failed to subscribe to topic %s: %w", filter, err)
	}

	s.mu.Lock()
	if old, exists := s.subs[filter]; exists {
		_ = old.Unsubscribe()
	}
	s.subs[filter] = sub
	s.mu.Unlock()

	s.transport.logger.Debug("subscribed to topic",
		"topic", filter,
		"subject", subject)
	return broker.SubAck{GrantedQoS: []byte{0}}, nil
}

// handleMessage forwards a NATS message as an MQTT-style message
func (s *SubscriptionManagerImpl) handleMessage(msg *nats.Msg) {
	s.transport.opts.DeliverMessage(broker.Message{
		Topic:   ToMQTTTopic(msg.Subject),
		QoS:     0,
		Payload: msg.Data,
	})
}

// UnsubscribeAll removes every subscription
func (s *SubscriptionManagerImpl) UnsubscribeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for topic, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("failed to unsubscribe from topic %s: %w", topic, err))
		}
		delete(s.subs, topic)
	}
	return errors.Join(errs...)
}

// GetSubscribedTopics returns the subscribed filters in sorted order
func (s *SubscriptionManagerImpl) GetSubscribedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, len(s.subs))
	for topic := range s.subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
