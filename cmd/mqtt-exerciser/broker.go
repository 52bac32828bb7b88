package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mqtt-exerciser/config"
	"mqtt-exerciser/internal/embedded"
	"mqtt-exerciser/internal/logger"
)

type brokerFlags struct {
	listen   string
	username string
	password string
	certFile string
	keyFile  string
}

func newBrokerCmd(opts *rootOptions) *cobra.Command {
	f := &brokerFlags{}
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run an embedded MQTT broker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(cmd.Context(), opts, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.listen, "listen", ":1883", "address to listen on")
	flags.StringVar(&f.username, "user", "", "require this username (anonymous when empty)")
	flags.StringVar(&f.password, "password", "", "password for --user")
	flags.StringVar(&f.certFile, "tls-cert", "", "serve TLS with this certificate")
	flags.StringVar(&f.keyFile, "tls-key", "", "private key for --tls-cert")
	return cmd
}

func runBroker(parent context.Context, opts *rootOptions, f *brokerFlags) error {
	// The broker only needs the logging section
	logCfg := config.Default().Logging
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	log, err := logger.NewLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	cfg := embedded.Config{Address: f.listen}
	if f.username != "" {
		cfg.Users = map[string]string{f.username: f.password}
	}
	if (f.certFile == "") != (f.keyFile == "") {
		return fmt.Errorf("--tls-cert and --tls-key must be set together")
	}
	if f.certFile != "" {
		cert, err := tls.LoadX509KeyPair(f.certFile, f.keyFile)
		if err != nil {
			return fmt.Errorf("failed to load key pair: %w", err)
		}
		cfg.TLS = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	b, err := embedded.New(cfg, log)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down...")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return b.Stop(sctx)
}
