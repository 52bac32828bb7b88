package embedded

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort finds an available TCP port on loopback
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func startBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	}
	b, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return b
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestStartAcceptsConnections(t *testing.T) {
	b := startBroker(t, Config{})

	conn, err := net.DialTimeout("tcp", b.Address(), time.Second)
	require.NoError(t, err)
	conn.Close()

	assert.Error(t, b.Start(context.Background()), "second start must fail")
}

func TestStartCancelledContext(t *testing.T) {
	b, err := New(Config{Address: "127.0.0.1:0"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Start(ctx), context.Canceled)
}

func TestStopIsIdempotent(t *testing.T) {
	b := startBroker(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
}

func TestInlinePublish(t *testing.T) {
	b := startBroker(t, Config{})

	require.NoError(t, b.Publish("ece140b/ch1", []byte("7"), false, 0))
	assert.Eventually(t, func() bool { return b.Published() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestAuthHook(t *testing.T) {
	hook := NewAuthHook(map[string]string{"alice": "secret"})

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{"valid credentials", "alice", "secret", true},
		{"wrong password", "alice", "nope", false},
		{"unknown user", "bob", "secret", false},
		{"anonymous", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := &mqtt.Client{Properties: mqtt.ClientProperties{Username: []byte(tt.username)}}
			pk := packets.Packet{Connect: packets.ConnectParams{Password: []byte(tt.password)}}
			assert.Equal(t, tt.want, hook.OnConnectAuthenticate(cl, pk))
		})
	}

	assert.True(t, hook.Provides(mqtt.OnConnectAuthenticate))
	assert.True(t, hook.Provides(mqtt.OnACLCheck))
	assert.False(t, hook.Provides(mqtt.OnPublish))
	assert.True(t, hook.OnACLCheck(&mqtt.Client{}, "any/topic", true))
}
