package broker

import (
	"context"
	"errors"
	"sync"

	"mqtt-exerciser/config"
)

// mockTransport implements Transport for testing
type mockTransport struct {
	opts DialOptions

	connectAck  ConnAck
	connectErr  error
	publishID   uint16
	publishErr  error
	granted     []byte
	subscribeID uint16

	mu          sync.Mutex
	published   []Message
	filters     []string
	disconnects int
}

func (m *mockTransport) Connect(ctx context.Context) (ConnAck, error) {
	return m.connectAck, m.connectErr
}

func (m *mockTransport) Publish(ctx context.Context, msg Message) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return 0, m.publishErr
	}
	m.published = append(m.published, msg)
	return m.publishID, nil
}

func (m *mockTransport) Subscribe(ctx context.Context, filter string, qos byte) (SubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, filter)
	granted := m.granted
	if granted == nil {
		granted = []byte{qos}
	}
	return SubAck{MessageID: m.subscribeID, GrantedQoS: granted}, nil
}

func (m *mockTransport) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return nil
}

func (m *mockTransport) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// mockDialer hands out one mockTransport per dial and remembers the options
type mockDialer struct {
	newTransport func() *mockTransport

	mu         sync.Mutex
	transports map[string]*mockTransport
}

func newMockDialer(fn func() *mockTransport) *mockDialer {
	if fn == nil {
		fn = func() *mockTransport { return &mockTransport{} }
	}
	return &mockDialer{newTransport: fn, transports: make(map[string]*mockTransport)}
}

func (d *mockDialer) Dial(opts DialOptions) (Transport, error) {
	if opts.Address == "unreachable" {
		return nil, errors.New("dial refused")
	}
	t := d.newTransport()
	t.opts = opts
	d.mu.Lock()
	d.transports[opts.ClientID] = t
	d.mu.Unlock()
	return t, nil
}

func (d *mockDialer) transport(id string) *mockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[id]
}

// recordingHooks collects every event
type recordingHooks struct {
	mu         sync.Mutex
	connects   []ConnectEvent
	publishes  []PublishEvent
	subscribes []SubscribeEvent
	messages   []MessageEvent
}

func (r *recordingHooks) OnConnect(e ConnectEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, e)
}

func (r *recordingHooks) OnPublish(e PublishEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishes = append(r.publishes, e)
}

func (r *recordingHooks) OnSubscribe(e SubscribeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribes = append(r.subscribes, e)
}

func (r *recordingHooks) OnMessage(e MessageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, e)
}

func testBrokerConfig() config.BrokerConfig {
	disabled := false
	return config.BrokerConfig{
		Address:        "localhost",
		Port:           1883,
		Username:       "user",
		Password:       "secret",
		Protocol:       config.ProtocolLoopback,
		KeepAlive:      "30s",
		ConnectTimeout: "2s",
		TLS:            config.TLSConfig{Enable: &disabled},
	}
}
