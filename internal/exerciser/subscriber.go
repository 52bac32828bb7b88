package exerciser

import (
	"context"

	"mqtt-exerciser/internal/broker"
	"mqtt-exerciser/internal/logger"
)

// SubscribeClient is the part of a client handle a subscriber uses
type SubscribeClient interface {
	ID() string
	Subscribe(ctx context.Context, filter string, qos byte) (broker.SubscribeEvent, error)
	Stop(ctx context.Context) error
	Done() <-chan struct{}
}

// Subscriber holds one subscription open until its context ends. Messages
// reach the client's on-message hook.
type Subscriber struct {
	client     SubscribeClient
	filter     string
	qos        byte
	logger     *logger.Logger
	subscribed bool
}

// NewSubscriber creates a subscriber for filter on client
func NewSubscriber(client SubscribeClient, filter string, qos byte, log *logger.Logger) *Subscriber {
	if log == nil {
		log = logger.NewNop()
	}
	return &Subscriber{
		client: client,
		filter: filter,
		qos:    qos,
		logger: log.With("client", client.ID()),
	}
}

// Subscribe registers the filter. Run calls it when it has not been called.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	if _, err := s.client.Subscribe(ctx, s.filter, s.qos); err != nil {
		return err
	}
	s.subscribed = true
	return nil
}

// Run blocks until ctx is done or the client is stopped elsewhere, then
// stops the client.
func (s *Subscriber) Run(ctx context.Context) error {
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := s.client.Stop(sctx); err != nil {
			s.logger.Warn("failed to stop client", "error", err)
		}
	}()

	if !s.subscribed {
		if err := s.Subscribe(ctx); err != nil {
			return err
		}
	}

	s.logger.Debug("listening", "filter", s.filter, "qos", s.qos)
	select {
	case <-ctx.Done():
	case <-s.client.Done():
	}
	return nil
}
