package broker

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"mqtt-exerciser/internal/logger"
)

// Transport is a single client connection provided by a protocol library.
// Implementations run their own network loop once Connect succeeds.
type Transport interface {
	// Connect performs the protocol handshake and returns the broker's answer
	Connect(ctx context.Context) (ConnAck, error)

	// Publish hands one message to the library. The returned id is zero when
	// the library does not expose one.
	Publish(ctx context.Context, msg Message) (uint16, error)

	// Subscribe registers a topic filter
	Subscribe(ctx context.Context, filter string, qos byte) (SubAck, error)

	// Disconnect closes the connection and stops the network loop
	Disconnect(ctx context.Context) error
}

// DialOptions carries everything a transport needs to reach the broker.
type DialOptions struct {
	ClientID       string
	Address        string
	Port           int
	Username       string
	Password       string
	TLS            *tls.Config
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Logger         *logger.Logger

	// Deliver receives every inbound message
	Deliver func(Message)
	// OnConnectionLost is called when the library reports a dropped connection
	OnConnectionLost func(error)
	// OnReconnect is called when the library restores a connection on its own
	OnReconnect func(ConnAck)
}

// Endpoint returns host:port
func (o DialOptions) Endpoint() string {
	return net.JoinHostPort(o.Address, strconv.Itoa(o.Port))
}

// URL returns the broker URL with a scheme chosen by TLS use.
func (o DialOptions) URL(plain, secure string) string {
	if o.TLS != nil {
		return secure + "://" + o.Endpoint()
	}
	return plain + "://" + o.Endpoint()
}

// DeliverMessage forwards msg to the Deliver callback if one is set.
func (o DialOptions) DeliverMessage(msg Message) {
	if o.Deliver != nil {
		o.Deliver(msg)
	}
}

// ConnectionLost forwards err to the OnConnectionLost callback if one is set.
func (o DialOptions) ConnectionLost(err error) {
	if o.OnConnectionLost != nil {
		o.OnConnectionLost(err)
	}
}

// Reconnected forwards ack to the OnReconnect callback if one is set.
func (o DialOptions) Reconnected(ack ConnAck) {
	if o.OnReconnect != nil {
		o.OnReconnect(ack)
	}
}

// Dialer creates transports.
type Dialer interface {
	Dial(opts DialOptions) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(opts DialOptions) (Transport, error)

// Dial calls f(opts)
func (f DialerFunc) Dial(opts DialOptions) (Transport, error) {
	return f(opts)
}
