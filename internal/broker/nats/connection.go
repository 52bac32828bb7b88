package nats

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"mqtt-exerciser/internal/broker"
)

const defaultConnectTimeout = 10 * time.Second

// ConnectionManagerImpl implements ConnectionManager for NATS
type ConnectionManagerImpl struct {
	transport *Transport
	conn      *nats.Conn
	connected atomic.Bool
}

// NewConnectionManager creates a new NATS connection manager
func NewConnectionManager(t *Transport) *ConnectionManagerImpl {
	return &ConnectionManagerImpl{transport: t}
}

// options maps the dial options onto nats options
func (cm *ConnectionManagerImpl) options(ctx context.Context) []nats.Option {
	o := cm.transport.opts

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	opts := []nats.Option{
		nats.Name(o.ClientID),
		nats.Timeout(timeout),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(cm.handleDisconnect),
		nats.ReconnectHandler(cm.handleReconnect),
		nats.ClosedHandler(cm.handleClosed),
	}
	if o.KeepAlive > 0 {
		opts = append(opts, nats.PingInterval(o.KeepAlive))
	}

	// Add authentication if configured
	if o.Username != "" {
		opts = append(opts, nats.UserInfo(o.Username, o.Password))
	}

	// Configure TLS if enabled
	if o.TLS != nil {
		opts = append(opts, nats.Secure(o.TLS))
	}
	return opts
}

// url returns the server URL; TLS is negotiated by nats.Secure
func (cm *ConnectionManagerImpl) url() string {
	return "nats://" + cm.transport.opts.Endpoint()
}

// Connect establishes connection to the NATS server
func (cm *ConnectionManagerImpl) Connect(ctx context.Context) (broker.ConnAck, error) {
	if err := ctx.Err(); err != nil {
		return broker.ConnAck{}, err
	}

	cm.transport.logger.Debug("connecting to NATS server", "url", cm.url())

	conn, err := nats.Connect(cm.url(), cm.options(ctx)...)
	if err != nil {
		return broker.ConnAck{}, fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	cm.conn = conn
	cm.connected.Store(true)
	cm.transport.logger.Debug("connected to NATS server", "url", conn.ConnectedUrl())
	return broker.ConnAck{}, nil
}

// Disconnect cleanly disconnects from the NATS server
func (cm *ConnectionManagerImpl) Disconnect() {
	cm.connected.Store(false)
	if cm.conn != nil {
		cm.transport.logger.Debug("disconnecting from NATS server")
		cm.conn.Close()
	}
}

// IsConnected returns the current connection status
func (cm *ConnectionManagerImpl) IsConnected() bool {
	return cm.conn != nil && cm.conn.IsConnected() && cm.connected.Load()
}

// GetConnection returns the NATS connection
func (cm *ConnectionManagerImpl) GetConnection() *nats.Conn {
	return cm.conn
}

// NATS connection event handlers

func (cm *ConnectionManagerImpl) handleDisconnect(conn *nats.Conn, err error) {
	if !cm.connected.Swap(false) {
		return
	}
	if err == nil {
		err = nats.ErrConnectionClosed
	}
	cm.transport.opts.ConnectionLost(err)
}

func (cm *ConnectionManagerImpl) handleReconnect(conn *nats.Conn) {
	cm.transport.logger.Info("reconnected to NATS server", "url", conn.ConnectedUrl())
	cm.connected.Store(true)
	cm.transport.opts.Reconnected(broker.ConnAck{})
}

func (cm *ConnectionManagerImpl) handleClosed(conn *nats.Conn) {
	cm.connected.Store(false)
}
