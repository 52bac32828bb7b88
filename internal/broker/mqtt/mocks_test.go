package mqtt

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken implements mqtt.Token for testing
type MockToken struct {
	err  error
	done chan struct{}
}

func NewMockToken(err error) *MockToken {
	t := &MockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

// pendingToken never completes
func pendingToken() *MockToken {
	return &MockToken{done: make(chan struct{})}
}

func (t *MockToken) Wait() bool                       { return true }
func (t *MockToken) WaitTimeout(d time.Duration) bool { return true }
func (t *MockToken) Error() error                     { return t.err }
func (t *MockToken) Done() <-chan struct{}            { return t.done }

type mockPublish struct {
	topic    string
	qos      byte
	retained bool
	payload  interface{}
}

// MockClient implements mqtt.Client for testing
type MockClient struct {
	opts          *mqtt.ClientOptions
	connected     atomic.Bool
	connectFunc   func() mqtt.Token
	publishFunc   func(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	subscribeFunc func(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token

	mu            sync.RWMutex
	published     []mockPublish
	handlers      map[string]mqtt.MessageHandler
	subscribeHits int
	disconnects   int
}

func NewMockClient(opts *mqtt.ClientOptions) *MockClient {
	m := &MockClient{opts: opts, handlers: make(map[string]mqtt.MessageHandler)}
	m.connectFunc = func() mqtt.Token { return NewMockToken(nil) }
	m.publishFunc = func(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
		return NewMockToken(nil)
	}
	m.subscribeFunc = func(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
		return NewMockToken(nil)
	}
	return m
}

func (m *MockClient) Connect() mqtt.Token {
	tok := m.connectFunc()
	if tok.Error() == nil {
		m.connected.Store(true)
	}
	return tok
}

func (m *MockClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected.Store(false)
}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	m.mu.Lock()
	m.published = append(m.published, mockPublish{topic, qos, retained, payload})
	m.mu.Unlock()
	return m.publishFunc(topic, qos, retained, payload)
}

func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	m.handlers[topic] = callback
	m.subscribeHits++
	m.mu.Unlock()
	return m.subscribeFunc(topic, qos, callback)
}

func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}
func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token         { return NewMockToken(nil) }
func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (m *MockClient) IsConnected() bool                                 { return m.connected.Load() }
func (m *MockClient) IsConnectionOpen() bool                            { return m.connected.Load() }
func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader         { return mqtt.ClientOptionsReader{} }

// deliver calls the handler registered for filter
func (m *MockClient) deliver(filter string, msg mqtt.Message) error {
	m.mu.RLock()
	h, ok := m.handlers[filter]
	m.mu.RUnlock()
	if !ok {
		return errors.New("no handler for " + filter)
	}
	h(m, msg)
	return nil
}

// MockMessage implements mqtt.Message for testing
type MockMessage struct {
	topic    string
	qos      byte
	payload  []byte
	retained bool
	id       uint16
}

func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return m.qos }
func (m *MockMessage) Retained() bool    { return m.retained }
func (m *MockMessage) Topic() string     { return m.topic }
func (m *MockMessage) MessageID() uint16 { return m.id }
func (m *MockMessage) Payload() []byte   { return m.payload }
func (m *MockMessage) Ack()              {}
