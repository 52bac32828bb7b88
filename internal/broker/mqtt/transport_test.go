package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-exerciser/internal/broker"
)

type testHarness struct {
	transport *Transport
	client    *MockClient
	opts      *mqtt.ClientOptions

	mu       sync.Mutex
	received []broker.Message
	lost     []error
	acks     []broker.ConnAck
}

func newHarness(t *testing.T, mutate func(*broker.DialOptions)) *testHarness {
	t.Helper()
	h := &testHarness{}

	opts := broker.DialOptions{
		ClientID:       "sender1",
		Address:        "broker.example.com",
		Port:           8883,
		Username:       "user",
		Password:       "secret",
		TLS:            &tls.Config{MinVersion: tls.VersionTLS12},
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 5 * time.Second,
		Deliver: func(m broker.Message) {
			h.mu.Lock()
			h.received = append(h.received, m)
			h.mu.Unlock()
		},
		OnConnectionLost: func(err error) {
			h.mu.Lock()
			h.lost = append(h.lost, err)
			h.mu.Unlock()
		},
		OnReconnect: func(ack broker.ConnAck) {
			h.mu.Lock()
			h.acks = append(h.acks, ack)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	tr, err := NewTransport(opts, func(o *mqtt.ClientOptions) mqtt.Client {
		h.opts = o
		h.client = NewMockClient(o)
		return h.client
	})
	require.NoError(t, err)
	h.transport = tr
	return h
}

func TestClientOptions(t *testing.T) {
	h := newHarness(t, nil)

	require.Len(t, h.opts.Servers, 1)
	assert.Equal(t, "ssl://broker.example.com:8883", h.opts.Servers[0].String())
	assert.Equal(t, "sender1", h.opts.ClientID)
	assert.Equal(t, "user", h.opts.Username)
	assert.Equal(t, "secret", h.opts.Password)
	assert.Equal(t, uint(4), h.opts.ProtocolVersion)
	assert.Equal(t, int64(30), h.opts.KeepAlive)
	assert.Equal(t, 5*time.Second, h.opts.ConnectTimeout)
	assert.NotNil(t, h.opts.TLSConfig)
	assert.True(t, h.opts.CleanSession)
	assert.NotNil(t, h.opts.OnConnect)
	assert.NotNil(t, h.opts.OnConnectionLost)
	assert.NotNil(t, h.opts.OnReconnecting)

	plain := newHarness(t, func(o *broker.DialOptions) { o.TLS = nil; o.Port = 1883 })
	assert.Equal(t, "tcp://broker.example.com:1883", plain.opts.Servers[0].String())
}

func TestNewTransportRequiresAddress(t *testing.T) {
	_, err := NewTransport(broker.DialOptions{ClientID: "x"}, func(o *mqtt.ClientOptions) mqtt.Client { return NewMockClient(o) })
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.transport.Publish(context.Background(), broker.Message{Topic: "a", QoS: 1})
	assert.ErrorIs(t, err, broker.ErrNotConnected, "publish before connect")

	_, err = h.transport.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, h.transport.conn.IsConnected())

	// the initial OnConnect callback is not a reconnect
	h.opts.OnConnect(h.client)
	assert.Empty(t, h.acks)
}

func TestConnectError(t *testing.T) {
	h := newHarness(t, nil)
	h.client.connectFunc = func() mqtt.Token { return NewMockToken(errors.New("not Authorized")) }

	_, err := h.transport.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, h.transport.conn.IsConnected())

	h.opts.OnConnect(h.client)
	assert.Empty(t, h.acks)
}

func TestConnectHonoursContext(t *testing.T) {
	h := newHarness(t, nil)
	h.client.connectFunc = func() mqtt.Token { return pendingToken() }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.transport.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublish(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.transport.Connect(context.Background())
	require.NoError(t, err)

	id, err := h.transport.Publish(context.Background(), broker.Message{Topic: "ece140b/ch1", QoS: 1, Payload: []byte("7")})
	require.NoError(t, err)
	assert.Zero(t, id, "mock tokens carry no packet id")

	require.Len(t, h.client.published, 1)
	assert.Equal(t, "ece140b/ch1", h.client.published[0].topic)
	assert.Equal(t, byte(1), h.client.published[0].qos)
	assert.Equal(t, []byte("7"), h.client.published[0].payload)

	h.client.publishFunc = func(string, byte, bool, interface{}) mqtt.Token {
		return NewMockToken(errors.New("connection lost before Publish completed"))
	}
	_, err = h.transport.Publish(context.Background(), broker.Message{Topic: "ece140b/ch1", QoS: 1})
	assert.Error(t, err)
}

func TestSubscribeAndDeliver(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.transport.Connect(context.Background())
	require.NoError(t, err)

	ack, err := h.transport.Subscribe(context.Background(), "encyclopedia/#", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, ack.GrantedQoS)
	assert.Equal(t, []string{"encyclopedia/#"}, h.transport.sub.GetSubscribedTopics())

	require.NoError(t, h.client.deliver("encyclopedia/#", &MockMessage{
		topic:   "encyclopedia/random_number",
		qos:     1,
		payload: []byte("42"),
		id:      7,
	}))

	require.Len(t, h.received, 1)
	assert.Equal(t, broker.Message{Topic: "encyclopedia/random_number", QoS: 1, Payload: []byte("42"), MessageID: 7}, h.received[0])
}

func TestConnectionLostAndReconnect(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.transport.Connect(context.Background())
	require.NoError(t, err)
	_, err = h.transport.Subscribe(context.Background(), "ece140b/ch1", 1)
	require.NoError(t, err)

	h.opts.OnConnectionLost(h.client, errors.New("EOF"))
	require.Len(t, h.lost, 1)
	assert.False(t, h.transport.conn.IsConnected())

	h.opts.OnReconnecting(h.client, h.opts)

	h.opts.OnConnect(h.client)
	assert.True(t, h.transport.conn.IsConnected())
	assert.Len(t, h.acks, 1)
	assert.Equal(t, 2, h.client.subscribeHits, "subscription restored")
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.transport.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.transport.Disconnect(context.Background()))
	assert.Equal(t, 1, h.client.disconnects)
	assert.False(t, h.transport.conn.IsConnected())
}
