package mqtt

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-exerciser/internal/broker"
	"mqtt-exerciser/internal/embedded"
)

func startEmbedded(t *testing.T, users map[string]string) int {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker integration test in short mode")
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	b, err := embedded.New(embedded.Config{
		Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Users:   users,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return port
}

func dialEmbedded(t *testing.T, port int, id string, mutate func(*broker.DialOptions)) *Transport {
	t.Helper()
	opts := broker.DialOptions{
		ClientID:       id,
		Address:        "127.0.0.1",
		Port:           port,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	tr, err := NewTransport(opts, mqtt.NewClient)
	require.NoError(t, err)
	return tr
}

func TestEmbeddedRoundTrip(t *testing.T) {
	port := startEmbedded(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan broker.Message, 4)
	sub := dialEmbedded(t, port, "receiver", func(o *broker.DialOptions) {
		o.Deliver = func(m broker.Message) { got <- m }
	})
	ack, err := sub.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0), ack.ReasonCode)
	defer sub.Disconnect(context.Background())

	suback, err := sub.Subscribe(ctx, "ece140b/#", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, suback.GrantedQoS)

	pub := dialEmbedded(t, port, "sender1", nil)
	_, err = pub.Connect(ctx)
	require.NoError(t, err)
	defer pub.Disconnect(context.Background())

	mid, err := pub.Publish(ctx, broker.Message{Topic: "ece140b/ch1", QoS: 1, Payload: []byte("7")})
	require.NoError(t, err)
	assert.NotZero(t, mid)

	select {
	case m := <-got:
		assert.Equal(t, "ece140b/ch1", m.Topic)
		assert.Equal(t, "7", string(m.Payload))
		assert.Equal(t, byte(1), m.QoS)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestEmbeddedBadCredentials(t *testing.T) {
	port := startEmbedded(t, map[string]string{"alice": "secret"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr := dialEmbedded(t, port, "sender1", func(o *broker.DialOptions) {
		o.Username = "alice"
		o.Password = "wrong"
	})
	ack, err := tr.Connect(ctx)
	require.Error(t, err)
	assert.NotZero(t, ack.ReasonCode)

	ok := dialEmbedded(t, port, "sender2", func(o *broker.DialOptions) {
		o.Username = "alice"
		o.Password = "secret"
	})
	_, err = ok.Connect(ctx)
	require.NoError(t, err)
	assert.NoError(t, ok.Disconnect(context.Background()))
}
