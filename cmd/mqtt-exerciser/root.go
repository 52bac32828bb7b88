package main

import (
	"time"

	"github.com/spf13/cobra"

	"mqtt-exerciser/config"
)

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	protocol   string
}

// overrideFlags are the flags changing the loaded configuration
type overrideFlags struct {
	iterations  int
	interval    time.Duration
	topic       string
	filter      string
	qos         int
	metricsAddr string
	randomID    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mqtt-exerciser",
		Short: "Exercise an MQTT broker with timed publishers and a logging subscriber.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SilenceUsage = true

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file (JSON or YAML)")
	flags.StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "env file with broker credentials (ignored when missing)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	flags.StringVar(&opts.protocol, "protocol", "", "override broker protocol (mqtt5, mqtt311, nats, loopback)")

	cmd.AddCommand(
		newRunCmd(opts),
		newPublishCmd(opts),
		newSubscribeCmd(opts),
		newBrokerCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func addOverrideFlags(cmd *cobra.Command, f *overrideFlags, publish, subscribe bool) {
	flags := cmd.Flags()
	flags.IntVar(&f.qos, "qos", -1, "override QoS for publishing and subscribing (-1 = use config)")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	if publish {
		flags.IntVar(&f.iterations, "iterations", -1, "publishes per sender, 0 runs until interrupted (-1 = use config)")
		flags.DurationVar(&f.interval, "interval", 0, "override publish interval (0 = use config)")
		flags.StringVar(&f.topic, "topic", "", "override publish topic")
	} else {
		f.iterations = -1
	}
	if subscribe {
		flags.StringVar(&f.filter, "filter", "", "override subscription filter")
		flags.BoolVar(&f.randomID, "random-id", false, "use a random subscriber client id instead of the configured one")
	}
}

// loadConfig loads the configuration with every flag override applied
func (o *rootOptions) loadConfig(f *overrideFlags) (*config.Config, error) {
	ov := config.NoOverrides()
	ov.Protocol = o.protocol
	ov.LogLevel = o.logLevel
	if f != nil {
		ov.Iterations = f.iterations
		ov.Interval = f.interval
		ov.Topic = f.topic
		ov.Filter = f.filter
		ov.QoS = f.qos
		ov.MetricsAddr = f.metricsAddr
		ov.GenerateSubscriberID = f.randomID
	}
	return config.LoadWithOverrides(o.configPath, o.envFile, ov)
}
