package exerciser

import (
	"context"
	"time"

	"mqtt-exerciser/internal/logger"
)

const stopTimeout = 5 * time.Second

// PublishClient is the part of a client handle a publisher uses
type PublishClient interface {
	ID() string
	Publish(ctx context.Context, topic string, qos byte, payload []byte) (uint16, error)
	Stop(ctx context.Context) error
}

// PublisherOptions configures a publisher loop
type PublisherOptions struct {
	Topic      string
	QoS        byte
	Interval   time.Duration
	Iterations int    // 0 runs until the context ends
	Payload    string // template, see RenderPayload
	Logger     *logger.Logger
}

// Publisher publishes one drawn value per iteration and sleeps Interval
// after each.
type Publisher struct {
	client PublishClient
	sender *Sender
	opts   PublisherOptions
	logger *logger.Logger

	sent   int
	failed int
}

// NewPublisher creates a publisher for sender on client
func NewPublisher(client PublishClient, sender *Sender, opts PublisherOptions) *Publisher {
	if opts.Payload == "" {
		opts.Payload = "${" + PlaceholderValue + "}"
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Publisher{
		client: client,
		sender: sender,
		opts:   opts,
		logger: log.With("client", client.ID()),
	}
}

// Bounded reports whether the loop stops on its own
func (p *Publisher) Bounded() bool {
	return p.opts.Iterations > 0
}

// Run executes the loop and stops the client when it ends, either after the
// configured iterations or when ctx is done. Publish errors are logged and
// counted; they never end the loop.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.stop()

	p.logger.Debug("publisher started",
		"topic", p.opts.Topic,
		"qos", p.opts.QoS,
		"interval", p.opts.Interval,
		"iterations", p.opts.Iterations,
		"min", p.sender.Min,
		"max", p.sender.Max)

	for i := 1; !p.Bounded() || i <= p.opts.Iterations; i++ {
		if ctx.Err() != nil {
			break
		}

		payload := RenderPayload(p.opts.Payload, PayloadData{
			Value:  p.sender.Draw(),
			Sender: p.sender.ID,
			Seq:    i,
			Time:   time.Now(),
		})

		if _, err := p.client.Publish(ctx, p.opts.Topic, p.opts.QoS, payload); err != nil {
			p.failed++
			p.logger.Error("publish failed", "iteration", i, "error", err)
		} else {
			p.sent++
		}

		if err := sleep(ctx, p.opts.Interval); err != nil {
			break
		}
	}

	p.logger.Debug("publisher finished", "sent", p.sent, "failed", p.failed)
	return nil
}

// Sent returns the number of successful publishes. Only valid after Run.
func (p *Publisher) Sent() int { return p.sent }

// Failed returns the number of failed publishes. Only valid after Run.
func (p *Publisher) Failed() int { return p.failed }

func (p *Publisher) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := p.client.Stop(ctx); err != nil {
		p.logger.Warn("failed to stop client", "error", err)
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
