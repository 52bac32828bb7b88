package embedded

import (
	"bytes"
	"crypto/subtle"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"mqtt-exerciser/internal/logger"
)

// AuthHook accepts clients presenting one of the configured credentials
type AuthHook struct {
	mqtt.HookBase
	users map[string]string
}

// NewAuthHook creates an authentication hook for users (name -> password)
func NewAuthHook(users map[string]string) *AuthHook {
	return &AuthHook{users: users}
}

// ID returns the hook identifier
func (h *AuthHook) ID() string {
	return "exerciser-auth"
}

// Provides indicates which hook methods this hook provides
func (h *AuthHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
	}, []byte{b})
}

// OnConnectAuthenticate checks the client's username and password
func (h *AuthHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	username := string(cl.Properties.Username)
	password, ok := h.users[username]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), pk.Connect.Password) == 1
}

// OnACLCheck allows every authenticated client to read and write all topics
func (h *AuthHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	return true
}

// EventHook logs client sessions and counts routed messages
type EventHook struct {
	mqtt.HookBase
	logger    *logger.Logger
	published atomic.Uint64
}

// ID returns the hook identifier
func (h *EventHook) ID() string {
	return "exerciser-events"
}

// Provides indicates which hook methods this hook provides
func (h *EventHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnSessionEstablished,
		mqtt.OnDisconnect,
		mqtt.OnPublished,
	}, []byte{b})
}

// OnSessionEstablished logs a connected client
func (h *EventHook) OnSessionEstablished(cl *mqtt.Client, pk packets.Packet) {
	h.logger.Debug("client connected",
		"client", cl.ID,
		"protocol", cl.Properties.ProtocolVersion)
}

// OnDisconnect logs a disconnected client
func (h *EventHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.logger.Debug("client disconnected", "client", cl.ID, "error", err)
}

// OnPublished counts a message routed by the broker
func (h *EventHook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	h.published.Add(1)
	h.logger.Debug("message routed",
		"client", cl.ID,
		"topic", pk.TopicName,
		"qos", pk.FixedHeader.Qos)
}
