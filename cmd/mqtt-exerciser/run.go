package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mqtt-exerciser/internal/exerciser"
	"mqtt-exerciser/internal/logger"
	"mqtt-exerciser/internal/metrics"
	"mqtt-exerciser/internal/stats"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	f := &overrideFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the publishers and the subscriber together",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.Context(), opts, f, exerciser.ModeRun)
		},
	}
	addOverrideFlags(cmd, f, true, true)
	return cmd
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	f := &overrideFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Run the publishers only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.Context(), opts, f, exerciser.ModePublish)
		},
	}
	addOverrideFlags(cmd, f, true, false)
	return cmd
}

func newSubscribeCmd(opts *rootOptions) *cobra.Command {
	f := &overrideFlags{}
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe and log every message until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.Context(), opts, f, exerciser.ModeSubscribe)
		},
	}
	addOverrideFlags(cmd, f, false, true)
	return cmd
}

func runScenario(parent context.Context, opts *rootOptions, f *overrideFlags, mode exerciser.Mode) error {
	cfg, err := opts.loadConfig(f)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := stats.NewStatsCollector()

	// Setup metrics if enabled
	var metricsService *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("failed to create metrics service: %w", err)
		}

		srv := metrics.NewServer(reg, cfg.Metrics.Address, cfg.Metrics.Path, log)
		if _, err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Error("failed to shutdown metrics server", "error", err)
			}
		}()
	}

	scenario, err := exerciser.NewScenario(cfg, exerciser.ScenarioOptions{
		Mode:    mode,
		Logger:  log,
		Metrics: metricsService,
		Stats:   collector,
	})
	if err != nil {
		return err
	}

	if _, err := scenario.Run(ctx); err != nil {
		log.Error("scenario failed", "error", err)
		return err
	}

	if data, err := collector.JSON(); err == nil {
		log.Debug("run statistics", "stats", string(data))
	}
	return nil
}
