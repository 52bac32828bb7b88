package broker

import (
	"mqtt-exerciser/internal/logger"
)

// Hooks receives the events of a client. Implementations must be safe for
// concurrent use: transports call OnMessage from their own goroutines.
type Hooks interface {
	OnConnect(ConnectEvent)
	OnPublish(PublishEvent)
	OnSubscribe(SubscribeEvent)
	OnMessage(MessageEvent)
}

// HookFuncs adapts plain functions to Hooks. Nil fields are skipped.
type HookFuncs struct {
	Connect   func(ConnectEvent)
	Publish   func(PublishEvent)
	Subscribe func(SubscribeEvent)
	Message   func(MessageEvent)
}

func (f HookFuncs) OnConnect(e ConnectEvent) {
	if f.Connect != nil {
		f.Connect(e)
	}
}

func (f HookFuncs) OnPublish(e PublishEvent) {
	if f.Publish != nil {
		f.Publish(e)
	}
}

func (f HookFuncs) OnSubscribe(e SubscribeEvent) {
	if f.Subscribe != nil {
		f.Subscribe(e)
	}
}

func (f HookFuncs) OnMessage(e MessageEvent) {
	if f.Message != nil {
		f.Message(e)
	}
}

// MultiHooks fans every event out to each hook in order.
type MultiHooks []Hooks

func (m MultiHooks) OnConnect(e ConnectEvent) {
	for _, h := range m {
		h.OnConnect(e)
	}
}

func (m MultiHooks) OnPublish(e PublishEvent) {
	for _, h := range m {
		h.OnPublish(e)
	}
}

func (m MultiHooks) OnSubscribe(e SubscribeEvent) {
	for _, h := range m {
		h.OnSubscribe(e)
	}
}

func (m MultiHooks) OnMessage(e MessageEvent) {
	for _, h := range m {
		h.OnMessage(e)
	}
}

// LogHooks writes one line per event.
type LogHooks struct {
	logger *logger.Logger
}

// NewLogHooks creates hooks that log to log
func NewLogHooks(log *logger.Logger) *LogHooks {
	return &LogHooks{logger: log}
}

func (h *LogHooks) OnConnect(e ConnectEvent) {
	if e.Err != nil {
		h.logger.Error("connection failed",
			"client", e.ClientID,
			"code", e.ReasonCode,
			"error", e.Err)
		return
	}
	h.logger.Info("CONNACK received",
		"client", e.ClientID,
		"code", e.ReasonCode,
		"sessionPresent", e.SessionPresent)
}

func (h *LogHooks) OnPublish(e PublishEvent) {
	h.logger.Info("PUBLISHED",
		"client", e.ClientID,
		"mid", e.MessageID,
		"topic", e.Topic,
		"qos", e.QoS,
		"payload", string(e.Payload))
}

func (h *LogHooks) OnSubscribe(e SubscribeEvent) {
	h.logger.Info("Subscribed",
		"client", e.ClientID,
		"mid", e.MessageID,
		"filter", e.Filter,
		"grantedQoS", grantedList(e.GrantedQoS))
}

func (h *LogHooks) OnMessage(e MessageEvent) {
	h.logger.Info("MESSAGE RECEIVED",
		"client", e.ClientID,
		"topic", e.Message.Topic,
		"qos", e.Message.QoS,
		"payload", string(e.Message.Payload))
}

// grantedList keeps zap from rendering a byte slice as base64.
func grantedList(qos []byte) []int {
	out := make([]int, len(qos))
	for i, q := range qos {
		out[i] = int(q)
	}
	return out
}
