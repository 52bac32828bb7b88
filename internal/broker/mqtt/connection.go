package mqtt

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-exerciser/internal/broker"
)

const disconnectQuiesce = 250 // milliseconds

// ConnectionManagerImpl handles MQTT connection lifecycle
type ConnectionManagerImpl struct {
	transport *Transport
	client    mqtt.Client
	connected atomic.Bool
	// set by OnReconnecting so the following OnConnect is reported as a
	// reconnect rather than the initial connect
	reconnecting atomic.Bool
}

func newConnectionManager(t *Transport) *ConnectionManagerImpl {
	return &ConnectionManagerImpl{transport: t}
}

// clientOptions maps the dial options onto paho options
func (cm *ConnectionManagerImpl) clientOptions() *mqtt.ClientOptions {
	o := cm.transport.opts

	opts := mqtt.NewClientOptions().
		AddBroker(o.URL("tcp", "ssl")).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(time.Minute)

	if o.KeepAlive > 0 {
		opts.SetKeepAlive(o.KeepAlive)
	}
	if o.ConnectTimeout > 0 {
		opts.SetConnectTimeout(o.ConnectTimeout)
	}
	if o.TLS != nil {
		opts.SetTLSConfig(o.TLS)
	}

	// Set up connection handlers
	opts.OnConnect = cm.handleConnect
	opts.OnConnectionLost = cm.handleDisconnect
	opts.OnReconnecting = cm.handleReconnecting

	return opts
}

// Connect establishes connection to the MQTT broker
func (cm *ConnectionManagerImpl) Connect(ctx context.Context) (broker.ConnAck, error) {
	token := cm.client.Connect()
	err := waitToken(ctx, token)

	var ack broker.ConnAck
	if ct, ok := token.(*mqtt.ConnectToken); ok {
		ack.ReasonCode = ct.ReturnCode()
		ack.SessionPresent = ct.SessionPresent()
	}
	if err != nil {
		return ack, fmt.Errorf("failed to connect to broker: %w", err)
	}

	cm.connected.Store(true)
	return ack, nil
}

// Disconnect cleanly disconnects from the MQTT broker
func (cm *ConnectionManagerImpl) Disconnect() {
	cm.transport.logger.Debug("disconnecting from mqtt broker")
	cm.connected.Store(false)
	cm.client.Disconnect(disconnectQuiesce)
}

// IsConnected returns current connection status
func (cm *ConnectionManagerImpl) IsConnected() bool {
	return cm.connected.Load()
}

// GetClient returns the MQTT client instance
func (cm *ConnectionManagerImpl) GetClient() mqtt.Client {
	return cm.client
}

// handleConnect runs for the initial connect and every library reconnect.
// Only reconnects are reported, after resubscribing.
func (cm *ConnectionManagerImpl) handleConnect(client mqtt.Client) {
	if !cm.reconnecting.Swap(false) {
		return
	}

	cm.connected.Store(true)
	cm.transport.logger.Info("mqtt client reconnected", "broker", cm.transport.opts.Endpoint())

	if err := cm.transport.sub.ResubscribeAll(); err != nil {
		cm.transport.logger.Error("failed to resubscribe to topics after reconnect", "error", err)
	}
	cm.transport.opts.Reconnected(broker.ConnAck{})
}

// handleDisconnect processes connection loss
func (cm *ConnectionManagerImpl) handleDisconnect(client mqtt.Client, err error) {
	cm.connected.Store(false)
	cm.transport.opts.ConnectionLost(err)
}

// handleReconnecting processes reconnection attempts
func (cm *ConnectionManagerImpl) handleReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	cm.reconnecting.Store(true)
	cm.transport.logger.Info("mqtt client reconnecting", "broker", cm.transport.opts.Endpoint())
}
