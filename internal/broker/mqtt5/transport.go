// Package mqtt5 adapts the Eclipse Paho MQTT 5 client (autopaho) to
// broker.Transport.
package mqtt5

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"mqtt-exerciser/internal/broker"
	"mqtt-exerciser/internal/logger"
)

const (
	maxKeepAlive       = 65535 * time.Second
	resubscribeTimeout = 5 * time.Second
)

// Transport implements broker.Transport for MQTT 5. The connection manager
// keeps its own network loop and reconnects on its own after the first
// successful connection.
type Transport struct {
	opts      broker.DialOptions
	serverURL *url.URL
	logger    *logger.Logger

	cm        *autopaho.ConnectionManager
	cancel    context.CancelFunc
	connected atomic.Bool
	upCount   atomic.Int32

	mu      sync.Mutex
	connack *paho.Connack
	lastErr error
	topics  map[string]byte
}

// NewDialer returns a dialer creating autopaho connections
func NewDialer() broker.Dialer {
	return broker.DialerFunc(func(opts broker.DialOptions) (broker.Transport, error) {
		return NewTransport(opts)
	})
}

// NewTransport validates the options. Nothing is dialled until Connect.
func NewTransport(opts broker.DialOptions) (*Transport, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("broker address is required")
	}

	u, err := url.Parse(opts.URL("mqtt", "tls"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MQTT URL: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &Transport{
		opts:      opts,
		serverURL: u,
		logger:    log,
		topics:    make(map[string]byte),
	}, nil
}

// clientConfig maps the dial options onto autopaho
func (t *Transport) clientConfig() autopaho.ClientConfig {
	keepAlive := t.opts.KeepAlive
	if keepAlive > maxKeepAlive {
		keepAlive = maxKeepAlive
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{t.serverURL},
		KeepAlive:                     uint16(keepAlive / time.Second),
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		ConnectTimeout:                t.opts.ConnectTimeout,
		TlsCfg:                        t.opts.TLS,
		OnConnectionUp:                t.handleConnectionUp,
		OnConnectError:                t.handleConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           t.opts.ClientID,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){t.handlePublish},
			OnClientError:      t.handleClientError,
			OnServerDisconnect: t.handleServerDisconnect,
		},
	}
	if t.opts.Username != "" {
		cfg.ConnectUsername = t.opts.Username
		cfg.ConnectPassword = []byte(t.opts.Password)
	}
	return cfg
}

// Connect starts the connection manager and waits for the first CONNACK.
// On failure the manager is cancelled so it stops retrying.
func (t *Transport) Connect(ctx context.Context) (broker.ConnAck, error) {
	connCtx, cancel := context.WithCancel(context.Background())

	cm, err := autopaho.NewConnection(connCtx, t.clientConfig())
	if err != nil {
		cancel()
		return broker.ConnAck{}, fmt.Errorf("failed to create connection manager: %w", err)
	}
	t.cm = cm
	t.cancel = cancel

	if err := cm.AwaitConnection(ctx); err != nil {
		cancel()
		<-cm.Done()

		t.mu.Lock()
		lastErr := t.lastErr
		t.mu.Unlock()

		var ack broker.ConnAck
		var ce *autopaho.ConnackError
		if errors.As(lastErr, &ce) {
			ack.ReasonCode = ce.ReasonCode
		}
		if lastErr != nil {
			return ack, fmt.Errorf("failed to connect to broker: %w", errors.Join(err, lastErr))
		}
		return ack, fmt.Errorf("failed to connect to broker: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var ack broker.ConnAck
	if t.connack != nil {
		ack.ReasonCode = t.connack.ReasonCode
		ack.SessionPresent = t.connack.SessionPresent
	}
	return ack, nil
}

// Publish sends one message. autopaho does not expose packet ids, so the
// returned id is always zero.
func (t *Transport) Publish(ctx context.Context, msg broker.Message) (uint16, error) {
	if t.cm == nil || !t.connected.Load() {
		return 0, broker.ErrNotConnected
	}

	resp, err := t.cm.Publish(ctx, &paho.Publish{
		QoS:     msg.QoS,
		Topic:   msg.Topic,
		Retain:  msg.Retained,
		Payload: msg.Payload,
	})
	if err != nil {
		return 0, err
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return 0, fmt.Errorf("publish refused with reason code 0x%02x", resp.ReasonCode)
	}
	return 0, nil
}

// Subscribe registers filter and remembers it for reconnects
func (t *Transport) Subscribe(ctx context.Context, filter string, qos byte) (broker.SubAck, error) {
	if t.cm == nil || !t.connected.Load() {
		return broker.SubAck{}, broker.ErrNotConnected
	}

	suback, err := t.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: qos}},
	})
	if err != nil {
		return broker.SubAck{}, fmt.Errorf("failed to subscribe to topic %s: %w", filter, err)
	}

	t.mu.Lock()
	t.topics[filter] = qos
	t.mu.Unlock()

	granted := []byte{qos}
	if suback != nil && len(suback.Reasons) > 0 {
		granted = suback.Reasons
	}
	return broker.SubAck{GrantedQoS: granted}, nil
}

// Disconnect sends DISCONNECT and stops the connection manager
func (t *Transport) Disconnect(ctx context.Context) error {
	t.connected.Store(false)
	if t.cm == nil {
		return nil
	}

	err := t.cm.Disconnect(ctx)
	t.cancel()

	select {
	case <-t.cm.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, autopaho.ConnectionDownError) {
		return nil
	}
	return err
}

// SubscribedTopics returns the remembered filters in sorted order
func (t *Transport) SubscribedTopics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	topics := make([]string, 0, len(t.topics))
	for topic := range t.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (t *Transport) handleConnectionUp(cm *autopaho.ConnectionManager, connack *paho.Connack) {
	t.mu.Lock()
	t.connack = connack
	t.mu.Unlock()
	t.connected.Store(true)

	if t.upCount.Add(1) == 1 {
		return
	}

	t.logger.Info("mqtt5 client reconnected", "broker", t.opts.Endpoint())
	if err := t.resubscribe(cm); err != nil {
		t.logger.Error("failed to resubscribe to topics after reconnect", "error", err)
	}
	t.opts.Reconnected(broker.ConnAck{ReasonCode: connack.ReasonCode, SessionPresent: connack.SessionPresent})
}

func (t *Transport) resubscribe(cm *autopaho.ConnectionManager) error {
	t.mu.Lock()
	subs := make([]paho.SubscribeOptions, 0, len(t.topics))
	for topic, qos := range t.topics {
		subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: qos})
	}
	t.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), resubscribeTimeout)
	defer cancel()
	_, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs})
	return err
}

func (t *Transport) handleConnectError(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
	t.logger.Debug("mqtt5 connection attempt failed", "error", err)
}

func (t *Transport) handleClientError(err error) {
	if t.connected.Swap(false) {
		t.opts.ConnectionLost(err)
	}
}

func (t *Transport) handleServerDisconnect(d *paho.Disconnect) {
	if t.connected.Swap(false) {
		t.opts.ConnectionLost(fmt.Errorf("server disconnect with reason code 0x%02x", d.ReasonCode))
	}
}

func (t *Transport) handlePublish(pr paho.PublishReceived) (bool, error) {
	p := pr.Packet
	t.opts.DeliverMessage(broker.Message{
		Topic:     p.Topic,
		QoS:       p.QoS,
		Payload:   p.Payload,
		Retained:  p.Retain,
		MessageID: p.PacketID,
	})
	return true, nil
}
