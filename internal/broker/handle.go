package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mqtt-exerciser/config"
	"mqtt-exerciser/internal/logger"
	"mqtt-exerciser/internal/metrics"
	"mqtt-exerciser/internal/stats"
)

const (
	defaultConnectTimeout = 10 * time.Second
	disconnectTimeout     = 5 * time.Second
)

// HandleOptions configures Bootstrap. Hooks are fixed for the lifetime of the
// handle.
type HandleOptions struct {
	ID         string
	GenerateID bool // use a random id when ID is empty
	Role       Role
	Hooks      Hooks
	Dialer     Dialer
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	Stats      *stats.StatsCollector
}

// ClientHandle is one connected client. It is owned by the task that created
// it and is safe for concurrent use.
type ClientHandle struct {
	id        string
	role      Role
	cfg       config.BrokerConfig
	transport Transport
	hooks     Hooks
	logger    *logger.Logger
	metrics   *metrics.Metrics
	stats     *stats.StatsCollector

	mu      sync.RWMutex
	state   State
	stopped bool

	lastID   atomic.Uint32
	done     chan struct{}
	stopOnce sync.Once
}

// Bootstrap creates a client for cfg, installs its hooks, connects and leaves
// the library's network loop running. A failed connection is reported to the
// on-connect hook, the transport is torn down and the handle is returned in
// StateFailed alongside an error wrapping ErrConnectFailed. No retry is
// attempted. Errors raised before dialing return a nil handle.
func Bootstrap(ctx context.Context, cfg config.BrokerConfig, opts HandleOptions) (*ClientHandle, error) {
	id := opts.ID
	if id == "" {
		if !opts.GenerateID {
			return nil, fmt.Errorf("client id is required")
		}
		id = uuid.NewString()
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("client %s: no dialer", id)
	}
	if opts.Hooks == nil {
		opts.Hooks = HookFuncs{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	h := &ClientHandle{
		id:      id,
		role:    opts.Role,
		cfg:     cfg,
		hooks:   opts.Hooks,
		logger:  opts.Logger.With("client", id),
		metrics: opts.Metrics,
		stats:   opts.Stats,
		state:   StateDisconnected,
		done:    make(chan struct{}),
	}

	tlsConfig, err := NewTLSConfig(cfg.TLS, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("client %s: failed to create TLS config: %w", id, err)
	}

	h.transport, err = opts.Dialer.Dial(DialOptions{
		ClientID:         id,
		Address:          cfg.Address,
		Port:             cfg.Port,
		Username:         cfg.Username,
		Password:         cfg.Password,
		TLS:              tlsConfig,
		KeepAlive:        cfg.KeepAliveDuration(),
		ConnectTimeout:   cfg.ConnectTimeoutDuration(),
		Logger:           h.logger,
		Deliver:          h.deliver,
		OnConnectionLost: h.connectionLost,
		OnReconnect:      h.reconnected,
	})
	if err != nil {
		return nil, fmt.Errorf("client %s: failed to create transport: %w", id, err)
	}

	if err := h.connect(ctx); err != nil {
		return h, err
	}
	return h, nil
}

func (h *ClientHandle) connect(ctx context.Context) error {
	h.setState(StateConnecting)

	timeout := h.cfg.ConnectTimeoutDuration()
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h.logger.Debug("connecting", "protocol", h.cfg.Protocol, "address", h.cfg.Address, "port", h.cfg.Port)
	ack, err := h.transport.Connect(cctx)

	h.hooks.OnConnect(ConnectEvent{
		ClientID:       h.id,
		ReasonCode:     ack.ReasonCode,
		SessionPresent: ack.SessionPresent,
		Err:            err,
		Time:           time.Now(),
	})

	if err != nil {
		h.setState(StateFailed)
		h.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncConnectAttempts(h.id, "error")
			m.SetConnectionStatus(h.id, false)
		})
		if h.stats != nil {
			h.stats.RecordConnect(false)
		}

		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer dcancel()
		if derr := h.transport.Disconnect(dctx); derr != nil {
			h.logger.Debug("teardown after failed connect", "error", derr)
		}
		return fmt.Errorf("client %s: %w: %w", h.id, ErrConnectFailed, err)
	}

	h.setState(StateConnected)
	h.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncConnectAttempts(h.id, "success")
		m.SetConnectionStatus(h.id, true)
	})
	if h.stats != nil {
		h.stats.RecordConnect(true)
	}
	return nil
}

// ID returns the client id
func (h *ClientHandle) ID() string { return h.id }

// Role returns the client role
func (h *ClientHandle) Role() Role { return h.role }

// State returns the current connection state
func (h *ClientHandle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Done is closed once Stop has run
func (h *ClientHandle) Done() <-chan struct{} { return h.done }

// Publish sends one message and fires the on-publish hook. The returned id is
// the library's packet id when available, otherwise a handle-local sequence.
func (h *ClientHandle) Publish(ctx context.Context, topic string, qos byte, payload []byte) (uint16, error) {
	if err := ValidateTopic(topic); err != nil {
		return 0, err
	}
	if err := ValidateQoS(qos); err != nil {
		return 0, err
	}
	if h.State() != StateConnected {
		return 0, fmt.Errorf("client %s: %w", h.id, ErrNotConnected)
	}

	mid, err := h.transport.Publish(ctx, Message{Topic: topic, QoS: qos, Payload: payload})
	if h.stats != nil {
		h.stats.RecordPublish(h.id, payload, err)
	}
	if err != nil {
		h.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.IncPublishErrors(h.id)
		})
		return 0, fmt.Errorf("client %s: publish to %s: %w", h.id, topic, err)
	}
	if mid == 0 {
		mid = h.nextMessageID()
	}

	h.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncMessagesPublished(h.id, len(payload))
	})
	h.hooks.OnPublish(PublishEvent{
		ClientID:  h.id,
		MessageID: mid,
		Topic:     topic,
		QoS:       qos,
		Payload:   payload,
	})
	return mid, nil
}

// Subscribe registers filter and fires the on-subscribe hook with the
// broker's acknowledgement.
func (h *ClientHandle) Subscribe(ctx context.Context, filter string, qos byte) (SubscribeEvent, error) {
	if err := ValidateFilter(filter); err != nil {
		return SubscribeEvent{}, err
	}
	if err := ValidateQoS(qos); err != nil {
		return SubscribeEvent{}, err
	}
	if h.State() != StateConnected {
		return SubscribeEvent{}, fmt.Errorf("client %s: %w", h.id, ErrNotConnected)
	}

	ack, err := h.transport.Subscribe(ctx, filter, qos)
	if err != nil {
		return SubscribeEvent{}, fmt.Errorf("client %s: subscribe to %s: %w", h.id, filter, err)
	}
	if ack.MessageID == 0 {
		ack.MessageID = h.nextMessageID()
	}

	ev := SubscribeEvent{
		ClientID:   h.id,
		MessageID:  ack.MessageID,
		Filter:     filter,
		GrantedQoS: ack.GrantedQoS,
	}
	h.hooks.OnSubscribe(ev)

	if ev.Rejected() {
		return ev, fmt.Errorf("client %s: %w: %s", h.id, ErrSubscriptionRejected, filter)
	}
	if len(ack.GrantedQoS) > 0 && ack.GrantedQoS[0] != qos {
		h.logger.Warn("granted QoS differs from requested", "filter", filter, "requested", qos, "granted", ack.GrantedQoS[0])
	}

	h.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncSubscriptions(h.id)
	})
	if h.stats != nil {
		h.stats.RecordSubscribe()
	}
	return ev, nil
}

// Stop disconnects the client. Calling it again, or on a client whose
// connection failed, is a no-op.
func (h *ClientHandle) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		defer close(h.done)

		h.mu.Lock()
		h.stopped = true
		failed := h.state == StateFailed
		h.mu.Unlock()

		if failed {
			return
		}

		h.logger.Debug("disconnecting")
		if derr := h.transport.Disconnect(ctx); derr != nil && !errors.Is(derr, context.Canceled) {
			err = fmt.Errorf("client %s: disconnect: %w", h.id, derr)
		}
		h.setState(StateDisconnected)
		h.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.SetConnectionStatus(h.id, false)
		})
	})
	return err
}

func (h *ClientHandle) deliver(msg Message) {
	if h.stats != nil {
		h.stats.RecordReceive(h.id, msg.Payload)
	}
	h.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncMessagesReceived(h.id, len(msg.Payload))
	})
	h.hooks.OnMessage(MessageEvent{ClientID: h.id, Message: msg})
}

// connectionLost is called by the transport; no reconnect is attempted here.
func (h *ClientHandle) connectionLost(err error) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.state = StateDisconnected
	h.mu.Unlock()

	h.logger.Warn("connection lost", "error", err)
	h.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetConnectionStatus(h.id, false)
	})
}

// reconnected is called when the library restored the connection by itself.
func (h *ClientHandle) reconnected(ack ConnAck) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.state = StateConnected
	h.mu.Unlock()

	h.hooks.OnConnect(ConnectEvent{
		ClientID:       h.id,
		ReasonCode:     ack.ReasonCode,
		SessionPresent: ack.SessionPresent,
		Time:           time.Now(),
	})
	h.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetConnectionStatus(h.id, true)
	})
}

func (h *ClientHandle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// nextMessageID returns ids 1..65535, wrapping and skipping zero.
func (h *ClientHandle) nextMessageID() uint16 {
	for {
		if id := uint16(h.lastID.Add(1)); id != 0 {
			return id
		}
	}
}

// safeMetricsUpdate safely updates metrics if they are enabled
func (h *ClientHandle) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if h.metrics != nil {
		fn(h.metrics)
	}
}
