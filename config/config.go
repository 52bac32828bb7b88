package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported transport protocols
const (
	ProtocolMQTT5    = "mqtt5"
	ProtocolMQTT311  = "mqtt311"
	ProtocolNATS     = "nats"
	ProtocolLoopback = "loopback"
)

// Defaults reproduce the bounded two-sender exercise
const (
	DefaultPort       = 8883
	DefaultTopic      = "ece140b/ch1"
	DefaultQoS        = 1
	DefaultInterval   = "3s"
	DefaultIterations = 10
	DefaultPayload    = "${value}"
	DefaultReceiverID = "receiver"
	DefaultLinger     = "2s"
	DefaultRangeMax   = 100
	DefaultEnvFile    = "credentials.env"
)

type Config struct {
	Broker    BrokerConfig    `json:"broker" yaml:"broker"`
	Publish   PublishConfig   `json:"publish" yaml:"publish"`
	Subscribe SubscribeConfig `json:"subscribe" yaml:"subscribe"`
	Logging   LogConfig       `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// BrokerConfig describes how every client reaches the broker. It is read once
// at startup and copied into each client handle.
type BrokerConfig struct {
	Address        string    `json:"address" yaml:"address"`
	Port           int       `json:"port" yaml:"port"`
	Username       string    `json:"username" yaml:"username"`
	Password       string    `json:"password" yaml:"password"`
	Protocol       string    `json:"protocol" yaml:"protocol"` // mqtt5, mqtt311, nats, loopback
	KeepAlive      string    `json:"keepAlive" yaml:"keepAlive"`
	ConnectTimeout string    `json:"connectTimeout" yaml:"connectTimeout"`
	TLS            TLSConfig `json:"tls" yaml:"tls"`
}

type TLSConfig struct {
	Enable             *bool  `json:"enable,omitempty" yaml:"enable,omitempty"` // defaults to true
	CAFile             string `json:"caFile" yaml:"caFile"`
	CertFile           string `json:"certFile" yaml:"certFile"`
	KeyFile            string `json:"keyFile" yaml:"keyFile"`
	ServerName         string `json:"serverName" yaml:"serverName"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify" yaml:"insecureSkipVerify"`
}

// Enabled reports whether TLS is on. An unset flag means enabled.
func (t TLSConfig) Enabled() bool {
	return t.Enable == nil || *t.Enable
}

type PublishConfig struct {
	Topic      string         `json:"topic" yaml:"topic"`
	QoS        byte           `json:"qos" yaml:"qos"`
	Interval   string         `json:"interval" yaml:"interval"`     // Duration string
	Iterations int            `json:"iterations" yaml:"iterations"` // 0 = run until stopped
	Payload    string         `json:"payload" yaml:"payload"`       // template, see exerciser.RenderPayload
	Senders    []SenderConfig `json:"senders" yaml:"senders"`
}

// SenderConfig is one publishing client and the inclusive range its values
// are drawn from.
type SenderConfig struct {
	ID       string `json:"id" yaml:"id"`
	Min      int    `json:"min" yaml:"min"`
	Max      int    `json:"max" yaml:"max"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

type SubscribeConfig struct {
	Enabled  *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"` // defaults to true
	ID       string `json:"id" yaml:"id"`
	Filter   string `json:"filter" yaml:"filter"` // defaults to the publish topic
	QoS      *byte  `json:"qos,omitempty" yaml:"qos,omitempty"`
	Linger   string `json:"linger" yaml:"linger"` // time to keep listening after bounded publishers finish
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// IsEnabled reports whether the subscriber should run. An unset flag means enabled.
func (s SubscribeConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`           // debug, info, warn, error
	OutputPath string `json:"outputPath" yaml:"outputPath"` // file path, "stdout" or "stderr"
	Encoding   string `json:"encoding" yaml:"encoding"`     // json or console
	MaxSize    int    `json:"maxSize" yaml:"maxSize"`       // megabytes, file output only
	MaxAge     int    `json:"maxAge" yaml:"maxAge"`         // days
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`
}

// envOverrides holds the variables read from the process environment (and
// the optional env file). Zero values mean "not set".
type envOverrides struct {
	Address  string `env:"BROKER_ADDRESS"`
	Port     int    `env:"BROKER_PORT"`
	Username string `env:"USER_NAME"`
	Password string `env:"PASSWORD"`
	Protocol string `env:"BROKER_PROTOCOL"`
	LogLevel string `env:"LOG_LEVEL"`
}

// Overrides carries command line flag values. Zero values leave the loaded
// configuration untouched.
type Overrides struct {
	Protocol    string
	Topic       string
	Filter      string
	QoS         int // -1 = unset
	Iterations  int // -1 = unset
	Interval    time.Duration
	LogLevel    string
	MetricsAddr string

	// GenerateSubscriberID clears the subscriber id so a random one is used
	GenerateSubscriberID bool
}

// Load reads the configuration file (JSON or YAML, optional), overlays the
// environment and env file, applies defaults and validates the result.
func Load(path, envFile string) (*Config, error) {
	return LoadWithOverrides(path, envFile, NoOverrides())
}

// LoadWithOverrides is Load with command line overrides applied after the
// defaults and before validation.
func LoadWithOverrides(path, envFile string, o Overrides) (*Config, error) {
	config := newConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&config, envFile); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	config.setDefaults()
	if err := config.ApplyOverrides(o); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with every default applied and no file or
// environment input.
func Default() *Config {
	config := newConfig()
	config.setDefaults()
	return &config
}

// newConfig returns a Config holding the defaults of fields whose zero value
// is meaningful, so that an explicit zero in a file survives decoding.
func newConfig() Config {
	return Config{
		Publish: PublishConfig{
			QoS:        DefaultQoS,
			Iterations: DefaultIterations,
		},
	}
}

// UnmarshalYAML decodes a sender, defaulting an absent max to DefaultRangeMax
func (s *SenderConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain SenderConfig
	out := plain{Max: DefaultRangeMax}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*s = SenderConfig(out)
	return nil
}

// UnmarshalJSON decodes a sender, defaulting an absent max to DefaultRangeMax
func (s *SenderConfig) UnmarshalJSON(data []byte) error {
	type plain SenderConfig
	out := plain{Max: DefaultRangeMax}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*s = SenderConfig(out)
	return nil
}

func decode(path string, data []byte, out *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, out)
	case ".json", "":
		return json.Unmarshal(data, out)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func applyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return err
	}

	if ov.Address != "" {
		cfg.Broker.Address = ov.Address
	}
	if ov.Port != 0 {
		cfg.Broker.Port = ov.Port
	}
	if ov.Username != "" {
		cfg.Broker.Username = ov.Username
	}
	if ov.Password != "" {
		cfg.Broker.Password = ov.Password
	}
	if ov.Protocol != "" {
		cfg.Broker.Protocol = ov.Protocol
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
	return nil
}

func (c *Config) setDefaults() {
	// Set defaults for broker
	if c.Broker.Port == 0 {
		c.Broker.Port = DefaultPort
	}
	if c.Broker.Protocol == "" {
		c.Broker.Protocol = ProtocolMQTT5
	}
	if c.Broker.KeepAlive == "" {
		c.Broker.KeepAlive = "60s"
	}
	if c.Broker.ConnectTimeout == "" {
		c.Broker.ConnectTimeout = "10s"
	}

	// Set defaults for publishing
	if c.Publish.Topic == "" {
		c.Publish.Topic = DefaultTopic
	}
	if c.Publish.Interval == "" {
		c.Publish.Interval = DefaultInterval
	}
	if c.Publish.Payload == "" {
		c.Publish.Payload = DefaultPayload
	}
	if len(c.Publish.Senders) == 0 {
		if c.Publish.Iterations > 0 {
			// Bounded runs tell senders apart by value
			c.Publish.Senders = []SenderConfig{
				{ID: "sender1", Min: 0, Max: 10},
				{ID: "sender2", Min: 20, Max: 30},
			}
		} else {
			c.Publish.Senders = []SenderConfig{
				{ID: "sender1", Min: 0, Max: DefaultRangeMax},
				{ID: "sender2", Min: 0, Max: DefaultRangeMax},
			}
		}
	}

	// Set defaults for subscribing
	if c.Subscribe.ID == "" {
		c.Subscribe.ID = DefaultReceiverID
	}
	if c.Subscribe.Filter == "" {
		c.Subscribe.Filter = c.Publish.Topic
	}
	if c.Subscribe.QoS == nil {
		qos := c.Publish.QoS
		c.Subscribe.QoS = &qos
	}
	if c.Subscribe.Linger == "" {
		c.Subscribe.Linger = DefaultLinger
	}

	// Set defaults for logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.OutputPath == "" {
		c.Logging.OutputPath = "stdout"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "console"
	}
	if c.Logging.MaxSize <= 0 {
		c.Logging.MaxSize = 100
	}

	// Set defaults for metrics
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":2112"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate performs validation of all configuration values
func (c *Config) Validate() error {
	if err := validateBroker(&c.Broker); err != nil {
		return err
	}
	if err := validatePublish(&c.Publish); err != nil {
		return err
	}
	if err := validateSubscribe(&c.Subscribe, &c.Publish); err != nil {
		return err
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding: %s", c.Logging.Encoding)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %s", c.Metrics.Path)
	}

	return nil
}

func validateBroker(b *BrokerConfig) error {
	switch b.Protocol {
	case ProtocolMQTT5, ProtocolMQTT311, ProtocolNATS:
		if b.Address == "" {
			return fmt.Errorf("broker address is required")
		}
	case ProtocolLoopback:
	default:
		return fmt.Errorf("unknown broker protocol: %s", b.Protocol)
	}

	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("broker port out of range: %d", b.Port)
	}
	if _, err := parsePositive(b.KeepAlive); err != nil {
		return fmt.Errorf("invalid keepalive: %w", err)
	}
	if _, err := parsePositive(b.ConnectTimeout); err != nil {
		return fmt.Errorf("invalid connect timeout: %w", err)
	}

	// Client certificates come in pairs
	if (b.TLS.CertFile == "") != (b.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert file and key file must be set together")
	}
	return nil
}

func validatePublish(p *PublishConfig) error {
	if err := validateQoS(p.QoS); err != nil {
		return err
	}
	if strings.ContainsAny(p.Topic, "+#") {
		return fmt.Errorf("publish topic must not contain wildcards: %s", p.Topic)
	}
	if _, err := parsePositive(p.Interval); err != nil {
		return fmt.Errorf("invalid publish interval: %w", err)
	}
	if p.Iterations < 0 {
		return fmt.Errorf("iterations must not be negative")
	}
	if len(p.Senders) == 0 {
		return fmt.Errorf("at least one sender is required")
	}

	seen := make(map[string]struct{}, len(p.Senders))
	for _, s := range p.Senders {
		if s.ID == "" {
			return fmt.Errorf("sender id is required")
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate sender id: %s", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Min > s.Max {
			return fmt.Errorf("sender %s: min %d greater than max %d", s.ID, s.Min, s.Max)
		}
	}

	// Bounded runs tell senders apart by value, so their ranges must not
	// overlap. Unbounded senders may share a range.
	if p.Iterations == 0 {
		return nil
	}
	ranges := make([]SenderConfig, len(p.Senders))
	copy(ranges, p.Senders)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Min < ranges[j].Min })
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Min <= ranges[i-1].Max {
			return fmt.Errorf("sender ranges overlap: %s [%d,%d] and %s [%d,%d]",
				ranges[i-1].ID, ranges[i-1].Min, ranges[i-1].Max,
				ranges[i].ID, ranges[i].Min, ranges[i].Max)
		}
	}
	return nil
}

func validateSubscribe(s *SubscribeConfig, p *PublishConfig) error {
	if s.QoS != nil {
		if err := validateQoS(*s.QoS); err != nil {
			return err
		}
	}
	if _, err := time.ParseDuration(s.Linger); err != nil {
		return fmt.Errorf("invalid subscribe linger: %w", err)
	}
	for _, sender := range p.Senders {
		if sender.ID == s.ID {
			return fmt.Errorf("subscriber id %s collides with a sender id", s.ID)
		}
	}
	return nil
}

func validateQoS(qos byte) error {
	if qos > 2 {
		return fmt.Errorf("invalid qos %d (must be 0, 1, or 2)", qos)
	}
	return nil
}

func parsePositive(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", s)
	}
	return d, nil
}

// ApplyOverrides applies command line flag overrides to the configuration.
// Out of range values are rejected before they are converted.
func (c *Config) ApplyOverrides(o Overrides) error {
	if o.QoS > 2 || o.QoS < -1 {
		return fmt.Errorf("invalid qos %d (must be 0, 1, or 2)", o.QoS)
	}
	if o.Iterations < -1 {
		return fmt.Errorf("iterations must not be negative: %d", o.Iterations)
	}

	if o.Protocol != "" {
		c.Broker.Protocol = o.Protocol
	}
	if o.Topic != "" {
		if c.Subscribe.Filter == c.Publish.Topic {
			c.Subscribe.Filter = o.Topic
		}
		c.Publish.Topic = o.Topic
	}
	if o.Filter != "" {
		c.Subscribe.Filter = o.Filter
	}
	if o.QoS >= 0 {
		qos := byte(o.QoS)
		c.Publish.QoS = qos
		c.Subscribe.QoS = &qos
	}
	if o.Iterations >= 0 {
		c.Publish.Iterations = o.Iterations
	}
	if o.Interval > 0 {
		c.Publish.Interval = o.Interval.String()
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.MetricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Address = o.MetricsAddr
	}
	if o.GenerateSubscriberID {
		c.Subscribe.ID = ""
	}
	return nil
}

// NoOverrides returns an Overrides value that changes nothing.
func NoOverrides() Overrides {
	return Overrides{QoS: -1, Iterations: -1}
}

// IntervalDuration returns the parsed publish interval.
func (p PublishConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(p.Interval)
	return d
}

// LingerDuration returns the parsed subscriber linger.
func (s SubscribeConfig) LingerDuration() time.Duration {
	d, _ := time.ParseDuration(s.Linger)
	return d
}

// SubscribeQoS returns the subscription QoS, falling back to 0.
func (s SubscribeConfig) SubscribeQoS() byte {
	if s.QoS == nil {
		return 0
	}
	return *s.QoS
}

// KeepAliveDuration returns the parsed keepalive.
func (b BrokerConfig) KeepAliveDuration() time.Duration {
	d, _ := time.ParseDuration(b.KeepAlive)
	return d
}

// ConnectTimeoutDuration returns the parsed connect timeout.
func (b BrokerConfig) ConnectTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(b.ConnectTimeout)
	return d
}

// WithCredentials returns a copy of b using the given credentials when they
// are set.
func (b BrokerConfig) WithCredentials(username, password string) BrokerConfig {
	if username != "" {
		b.Username = username
		b.Password = password
	}
	return b
}
