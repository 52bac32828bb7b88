// Package broker bootstraps exerciser clients against a message broker and
// delivers their connection, publish, subscribe and message events to hooks.
package broker

import (
	"time"
)

// Role represents what a client does once connected
type Role string

const (
	// RolePublisher sends messages on a timer
	RolePublisher Role = "publisher"
	// RoleSubscriber receives and logs messages
	RoleSubscriber Role = "subscriber"
)

// State represents the current state of a client connection
type State string

const (
	// StateDisconnected indicates the client is not connected
	StateDisconnected State = "disconnected"
	// StateConnecting indicates the client is attempting to connect
	StateConnecting State = "connecting"
	// StateConnected indicates the client is connected
	StateConnected State = "connected"
	// StateFailed indicates the connection attempt failed
	StateFailed State = "failed"
)

// Message is a single application message, inbound or outbound.
type Message struct {
	Topic     string
	QoS       byte
	Payload   []byte
	Retained  bool
	MessageID uint16
}

// ConnAck is the broker's answer to a connection request.
type ConnAck struct {
	ReasonCode     byte
	SessionPresent bool
}

// SubAck is the broker's answer to a subscription request.
type SubAck struct {
	MessageID  uint16
	GrantedQoS []byte
}

// Event is implemented by every event passed to hooks.
type Event interface {
	Client() string
}

// ConnectEvent reports the outcome of a connection attempt. Err is set when
// the attempt failed before or instead of a CONNACK.
type ConnectEvent struct {
	ClientID       string
	ReasonCode     byte
	SessionPresent bool
	Err            error
	Time           time.Time
}

// PublishEvent reports a message handed to the transport.
type PublishEvent struct {
	ClientID  string
	MessageID uint16
	Topic     string
	QoS       byte
	Payload   []byte
}

// SubscribeEvent reports an acknowledged subscription.
type SubscribeEvent struct {
	ClientID   string
	MessageID  uint16
	Filter     string
	GrantedQoS []byte
}

// MessageEvent reports a message delivered to a subscribed client.
type MessageEvent struct {
	ClientID string
	Message  Message
}

func (e ConnectEvent) Client() string   { return e.ClientID }
func (e PublishEvent) Client() string   { return e.ClientID }
func (e SubscribeEvent) Client() string { return e.ClientID }
func (e MessageEvent) Client() string   { return e.ClientID }

// Rejected reports whether any granted QoS carries a failure code.
func (e SubscribeEvent) Rejected() bool {
	for _, q := range e.GrantedQoS {
		if q >= 0x80 {
			return true
		}
	}
	return false
}
