package mqtt5

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-exerciser/internal/broker"
	"mqtt-exerciser/internal/embedded"
)

func startEmbedded(t *testing.T, cfg embedded.Config) int {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping broker integration test in short mode")
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg.Address = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	b, err := embedded.New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})
	return port
}

// selfSigned returns a server certificate for 127.0.0.1 and a pool trusting it
func selfSigned(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		IsCA:         true,

		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
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
	tr, err := NewTransport(opts)
	require.NoError(t, err)
	return tr
}

func TestEmbeddedRoundTripTLS(t *testing.T) {
	cert, pool := selfSigned(t)
	port := startEmbedded(t, embedded.Config{
		Users: map[string]string{"alice": "secret"},
		TLS:   &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
	})
	clientTLS := &tls.Config{RootCAs: pool, ServerName: "127.0.0.1", MinVersion: tls.VersionTLS12}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan broker.Message, 4)
	sub := dialEmbedded(t, port, "receiver", func(o *broker.DialOptions) {
		o.TLS = clientTLS
		o.Username, o.Password = "alice", "secret"
		o.Deliver = func(m broker.Message) { got <- m }
	})
	ack, err := sub.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0), ack.ReasonCode)
	defer sub.Disconnect(context.Background())

	suback, err := sub.Subscribe(ctx, "ece140b/ch1", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, suback.GrantedQoS)
	assert.Equal(t, []string{"ece140b/ch1"}, sub.SubscribedTopics())

	pub := dialEmbedded(t, port, "sender1", func(o *broker.DialOptions) {
		o.TLS = clientTLS
		o.Username, o.Password = "alice", "secret"
	})
	_, err = pub.Connect(ctx)
	require.NoError(t, err)
	defer pub.Disconnect(context.Background())

	_, err = pub.Publish(ctx, broker.Message{Topic: "ece140b/ch1", QoS: 1, Payload: []byte("25")})
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, "ece140b/ch1", m.Topic)
		assert.Equal(t, "25", string(m.Payload))
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestEmbeddedBadCredentials(t *testing.T) {
	port := startEmbedded(t, embedded.Config{Users: map[string]string{"alice": "secret"}})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tr := dialEmbedded(t, port, "sender1", func(o *broker.DialOptions) {
		o.Username, o.Password = "alice", "wrong"
	})
	ack, err := tr.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, byte(0x86), ack.ReasonCode)
}
