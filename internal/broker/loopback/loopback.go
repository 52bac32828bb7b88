// Package loopback is an in-process broker and transport used for dry runs
// and tests. Routing follows MQTT topic matching.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"mqtt-exerciser/internal/broker"
)

const inboxSize = 1024

// Reason codes sent back on a refused connection
const (
	ReasonSuccess          byte = 0x00
	ReasonBadCredentials   byte = 0x86
	ReasonNotAuthorized    byte = 0x87
	ReasonSessionTakenOver byte = 0x8E
)

// ErrSessionTakenOver is reported to a client replaced by a newer one with
// the same id.
var ErrSessionTakenOver = errors.New("session taken over")

// Broker routes messages between loopback transports.
type Broker struct {
	username string
	password string

	subs    *broker.TopicTree
	clients map[string]*Transport
	mu      sync.RWMutex
}

// Option configures a Broker
type Option func(*Broker)

// WithCredentials makes the broker refuse clients without these credentials
func WithCredentials(username, password string) Option {
	return func(b *Broker) {
		b.username = username
		b.password = password
	}
}

// NewBroker creates an empty broker
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:    broker.NewTopicTree(),
		clients: make(map[string]*Transport),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dialer returns a dialer whose transports connect to b
func (b *Broker) Dialer() broker.Dialer {
	return broker.DialerFunc(func(opts broker.DialOptions) (broker.Transport, error) {
		return &Transport{broker: b, opts: opts}, nil
	})
}

// Clients returns the number of connected clients
func (b *Broker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broker) connect(t *Transport) (broker.ConnAck, error) {
	if b.username != "" && (t.opts.Username != b.username || t.opts.Password != b.password) {
		return broker.ConnAck{ReasonCode: ReasonBadCredentials}, fmt.Errorf("bad user name or password (reason code 0x%02x)", ReasonBadCredentials)
	}

	b.mu.Lock()
	old := b.clients[t.opts.ClientID]
	b.clients[t.opts.ClientID] = t
	b.mu.Unlock()

	if old != nil {
		old.close()
		old.opts.ConnectionLost(ErrSessionTakenOver)
	}
	return broker.ConnAck{ReasonCode: ReasonSuccess}, nil
}

func (b *Broker) disconnect(t *Transport) {
	b.mu.Lock()
	if b.clients[t.opts.ClientID] == t {
		delete(b.clients, t.opts.ClientID)
		b.subs.RemoveKey(t.opts.ClientID)
	}
	b.mu.Unlock()
}

// route delivers msg once to every client with a matching subscription, at
// the lower of the publish and subscription QoS.
func (b *Broker) route(msg broker.Message) int {
	b.mu.RLock()
	targets := make(map[*Transport]byte)
	for _, m := range b.subs.Match(msg.Topic) {
		t, ok := b.clients[m.Key]
		if !ok {
			continue
		}
		if q, seen := targets[t]; !seen || m.QoS > q {
			targets[t] = m.QoS
		}
	}
	b.mu.RUnlock()

	for t, subQoS := range targets {
		out := msg
		out.MessageID = 0
		if subQoS < out.QoS {
			out.QoS = subQoS
		}
		t.enqueue(out)
	}
	return len(targets)
}

// Inject publishes msg as if it came from an external client
func (b *Broker) Inject(topic string, qos byte, payload []byte) (int, error) {
	if err := broker.ValidateTopic(topic); err != nil {
		return 0, err
	}
	return b.route(broker.Message{Topic: topic, QoS: qos, Payload: payload}), nil
}

// Transport is one loopback client connection. Inbound messages are handed
// to the Deliver callback on a per-client goroutine in arrival order.
type Transport struct {
	broker *Broker
	opts   broker.DialOptions

	connected atomic.Bool
	lastID    atomic.Uint32

	mu     sync.RWMutex
	inbox  chan broker.Message
	closed bool
	done   chan struct{}
}

// Connect registers the client with the broker and starts its delivery loop
func (t *Transport) Connect(ctx context.Context) (broker.ConnAck, error) {
	if err := ctx.Err(); err != nil {
		return broker.ConnAck{}, err
	}

	t.mu.Lock()
	t.inbox = make(chan broker.Message, inboxSize)
	t.done = make(chan struct{})
	t.closed = false
	t.mu.Unlock()

	ack, err := t.broker.connect(t)
	if err != nil {
		t.close()
		return ack, err
	}

	go t.loop(t.inbox, t.done)
	t.connected.Store(true)
	return ack, nil
}

func (t *Transport) loop(inbox <-chan broker.Message, done chan<- struct{}) {
	defer close(done)
	for msg := range inbox {
		t.opts.DeliverMessage(msg)
	}
}

// Publish routes msg through the broker. QoS 0 messages get no id.
func (t *Transport) Publish(ctx context.Context, msg broker.Message) (uint16, error) {
	if !t.connected.Load() {
		return 0, broker.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var id uint16
	if msg.QoS > 0 {
		id = t.nextID()
	}
	t.broker.route(msg)
	return id, nil
}

// Subscribe registers filter for this client
func (t *Transport) Subscribe(ctx context.Context, filter string, qos byte) (broker.SubAck, error) {
	if !t.connected.Load() {
		return broker.SubAck{}, broker.ErrNotConnected
	}
	if err := t.broker.subs.Add(filter, t.opts.ClientID, qos); err != nil {
		return broker.SubAck{MessageID: t.nextID(), GrantedQoS: []byte{0x8F}}, nil
	}
	return broker.SubAck{MessageID: t.nextID(), GrantedQoS: []byte{qos}}, nil
}

// Disconnect unregisters the client and waits for pending deliveries
func (t *Transport) Disconnect(ctx context.Context) error {
	if !t.connected.Swap(false) {
		return nil
	}
	t.broker.disconnect(t)

	t.mu.RLock()
	done := t.done
	t.mu.RUnlock()

	t.close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) enqueue(msg broker.Message) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed || t.inbox == nil {
		return
	}
	t.inbox <- msg
}

func (t *Transport) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed && t.inbox != nil {
		t.closed = true
		close(t.inbox)
	}
	t.connected.Store(false)
}

func (t *Transport) nextID() uint16 {
	for {
		if id := uint16(t.lastID.Add(1)); id != 0 {
			return id
		}
	}
}
