package exerciser

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mqtt-exerciser/config"
	"mqtt-exerciser/internal/broker"
	"mqtt-exerciser/internal/logger"
	"mqtt-exerciser/internal/metrics"
	"mqtt-exerciser/internal/stats"
)

// Mode selects which roles a scenario runs
type Mode int

const (
	ModeRun       Mode = iota // publishers and, unless disabled, the subscriber
	ModePublish               // publishers only
	ModeSubscribe             // subscriber only, until cancelled
)

func (m Mode) String() string {
	switch m {
	case ModeRun:
		return "run"
	case ModePublish:
		return "publish"
	case ModeSubscribe:
		return "subscribe"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ScenarioOptions configures a Scenario. Hooks default to log hooks.
type ScenarioOptions struct {
	Mode    Mode
	Dialer  broker.Dialer
	Hooks   broker.Hooks
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Stats   *stats.StatsCollector
	Seed    uint64 // 0 seeds every sender randomly
}

// Scenario wires the configured roles together and runs each one as its
// own task.
type Scenario struct {
	cfg     *config.Config
	opts    ScenarioOptions
	logger  *logger.Logger
	stats   *stats.StatsCollector
	manager *broker.Manager
}

// NewScenario creates a scenario for cfg
func NewScenario(cfg *config.Config, opts ScenarioOptions) (*Scenario, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewStatsCollector()
	}
	if opts.Dialer == nil {
		d, err := NewDialer(cfg.Broker.Protocol, nil)
		if err != nil {
			return nil, err
		}
		opts.Dialer = d
	}
	if opts.Hooks == nil {
		opts.Hooks = broker.NewLogHooks(opts.Logger)
	}

	return &Scenario{
		cfg:     cfg,
		opts:    opts,
		logger:  opts.Logger,
		stats:   opts.Stats,
		manager: broker.NewManager(opts.Dialer, opts.Logger, opts.Metrics, opts.Stats),
	}, nil
}

func (s *Scenario) wantSubscriber() bool {
	switch s.opts.Mode {
	case ModeSubscribe:
		return true
	case ModeRun:
		return s.cfg.Subscribe.IsEnabled()
	default:
		return false
	}
}

func (s *Scenario) wantPublishers() bool {
	return s.opts.Mode != ModeSubscribe
}

// Run connects every client, subscribes before any publisher starts, then
// runs all roles concurrently. A bounded run ends once every publisher is
// done and the subscriber has lingered; an unbounded run ends with ctx.
// Any failed connection aborts the run before roles start.
func (s *Scenario) Run(ctx context.Context) (stats.Summary, error) {
	dispatcher := broker.NewDispatcher(s.opts.Hooks, 0)
	defer dispatcher.Close()

	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := s.manager.StopAll(sctx); err != nil {
			s.logger.Warn("failed to stop clients", "error", err)
		}
	}()

	s.logger.Info("scenario starting",
		"mode", s.opts.Mode,
		"protocol", s.cfg.Broker.Protocol,
		"address", s.cfg.Broker.Address,
		"port", s.cfg.Broker.Port,
		"topic", s.cfg.Publish.Topic,
		"iterations", s.cfg.Publish.Iterations)

	var subscriber *Subscriber
	if s.wantSubscriber() {
		sub := s.cfg.Subscribe
		h, err := s.manager.Connect(ctx, s.cfg.Broker.WithCredentials(sub.Username, sub.Password), broker.HandleOptions{
			ID:         sub.ID,
			GenerateID: true,
			Role:       broker.RoleSubscriber,
			Hooks:      dispatcher,
		})
		if err != nil {
			return s.stats.Summary(), err
		}
		subscriber = NewSubscriber(h, sub.Filter, sub.SubscribeQoS(), s.logger)
		if err := subscriber.Subscribe(ctx); err != nil {
			return s.stats.Summary(), err
		}
	}

	var publishers []*Publisher
	if s.wantPublishers() {
		pub := s.cfg.Publish
		for i, sc := range pub.Senders {
			h, err := s.manager.Connect(ctx, s.cfg.Broker.WithCredentials(sc.Username, sc.Password), broker.HandleOptions{
				ID:    sc.ID,
				Role:  broker.RolePublisher,
				Hooks: dispatcher,
			})
			if err != nil {
				return s.stats.Summary(), err
			}

			seed := s.opts.Seed
			if seed != 0 {
				seed += uint64(i)
			}
			publishers = append(publishers, NewPublisher(h, NewSender(sc, seed), PublisherOptions{
				Topic:      pub.Topic,
				QoS:        pub.QoS,
				Interval:   pub.IntervalDuration(),
				Iterations: pub.Iterations,
				Payload:    pub.Payload,
				Logger:     s.logger,
			}))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	subCtx, subCancel := context.WithCancel(gctx)
	defer subCancel()

	if subscriber != nil {
		g.Go(func() error {
			return subscriber.Run(subCtx)
		})
	}

	if len(publishers) > 0 {
		var pg errgroup.Group
		for _, p := range publishers {
			pg.Go(func() error {
				return p.Run(gctx)
			})
		}

		g.Go(func() error {
			err := pg.Wait()
			if s.cfg.Publish.Iterations > 0 && subscriber != nil {
				// Bounded run: give in-flight messages time to arrive
				if serr := sleep(gctx, s.cfg.Subscribe.LingerDuration()); serr == nil {
					s.logger.Debug("publishers finished, stopping subscriber")
				}
				subCancel()
			}
			return err
		})
	}

	err := g.Wait()
	sum := s.stats.Summary()
	s.logger.Info("scenario finished",
		"published", sum.Published,
		"publishErrors", sum.PublishErrors,
		"received", sum.Received,
		"uptime", sum.Uptime,
		"rate", fmt.Sprintf("%.2f/s", s.stats.CalculateRate()))
	return sum, err
}

// Clients returns the client manager of the scenario
func (s *Scenario) Clients() *broker.Manager {
	return s.manager
}
