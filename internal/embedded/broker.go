// Package embedded runs an in-process MQTT broker for local runs and
// integration tests.
package embedded

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"mqtt-exerciser/internal/logger"
)

// Config describes the embedded broker
type Config struct {
	Address string            // host:port to listen on
	Users   map[string]string // empty allows anonymous clients
	TLS     *tls.Config
}

// Broker wraps a mochi server with one TCP listener
type Broker struct {
	cfg    Config
	server *mqtt.Server
	events *EventHook
	logger *logger.Logger

	mu      sync.Mutex
	running bool
	served  chan struct{}
}

// New creates a broker; call Start to listen
func New(cfg Config, log *logger.Logger) (*Broker, error) {
	if cfg.Address == "" {
		return nil, errors.New("listen address is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})

	if len(cfg.Users) > 0 {
		if err := server.AddHook(NewAuthHook(cfg.Users), nil); err != nil {
			return nil, fmt.Errorf("failed to add auth hook: %w", err)
		}
	} else {
		// mochi requires an auth hook
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, fmt.Errorf("failed to add allow hook: %w", err)
		}
	}

	events := &EventHook{logger: log}
	if err := server.AddHook(events, nil); err != nil {
		return nil, fmt.Errorf("failed to add event hook: %w", err)
	}

	return &Broker{
		cfg:    cfg,
		server: server,
		events: events,
		logger: log,
	}, nil
}

// Start binds the listener and serves in the background
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("broker is already running")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	listener := listeners.NewTCP(listeners.Config{
		ID:        "exerciser-tcp",
		Address:   b.cfg.Address,
		TLSConfig: b.cfg.TLS,
	})
	if err := b.server.AddListener(listener); err != nil {
		return fmt.Errorf("failed to add listener: %w", err)
	}

	b.served = make(chan struct{})
	go func() {
		defer close(b.served)
		if err := b.server.Serve(); err != nil {
			b.logger.Error("mqtt server error", "error", err)
		}
	}()

	b.running = true
	b.logger.Info("embedded broker listening",
		"address", b.cfg.Address,
		"tls", b.cfg.TLS != nil,
		"auth", len(b.cfg.Users) > 0)
	return nil
}

// Address returns the configured listen address
func (b *Broker) Address() string {
	return b.cfg.Address
}

// Publish injects a message from the broker's inline client
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return b.server.Publish(topic, payload, retain, qos)
}

// Published returns the number of messages routed so far
func (b *Broker) Published() uint64 {
	return b.events.published.Load()
}

// Stop closes the server and all client connections
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- b.server.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to close server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
