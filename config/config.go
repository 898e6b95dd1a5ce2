package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything needed to run the market depth capture server.
// Intervals and timeouts are integer milliseconds, matching the exchange
// documentation the values come from.
type Config struct {
	BinanceRestEndpoint    string `yaml:"binance_rest_endpoint"`
	BinanceWssEndpoint     string `yaml:"binance_wss_endpoint"`
	Instrument             string `yaml:"instrument"`
	MaxDepth               int    `yaml:"max_depth"`
	Connections            int    `yaml:"connections"`
	ReconnectTimeout       int    `yaml:"reconnect_timeout"`
	SnapshotUpdateInterval int    `yaml:"snapshot_update_interval"`

	Book       BookConfig       `yaml:"book"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Rest       RestConfig       `yaml:"rest"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type BookConfig struct {
	// StateDepth is the number of levels per side included in emitted
	// book states.
	StateDepth int `yaml:"state_depth"`
}

type DispatcherConfig struct {
	// MaxBufferedDiffs bounds the buffer held while awaiting a usable
	// snapshot. On overflow the oldest diffs are dropped.
	MaxBufferedDiffs int `yaml:"max_buffered_diffs"`
}

type ChannelsConfig struct {
	DepthBuffer    int `yaml:"depth_buffer"`
	SnapshotBuffer int `yaml:"snapshot_buffer"`
	BookBuffer     int `yaml:"book_buffer"`
	StateBuffer    int `yaml:"state_buffer"`
	MarketBuffer   int `yaml:"market_buffer"`
}

type RestConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

// maxDepthLimit is the largest depth the exchange accepts on the REST
// depth endpoint.
const maxDepthLimit = 5000

var instrumentRegexp = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := loadConfigFromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

func loadConfigFromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Book.StateDepth <= 0 {
		cfg.Book.StateDepth = 10
	}
	if cfg.Dispatcher.MaxBufferedDiffs <= 0 {
		cfg.Dispatcher.MaxBufferedDiffs = 4096
	}
	if cfg.Channels.DepthBuffer <= 0 {
		cfg.Channels.DepthBuffer = 1024
	}
	if cfg.Channels.SnapshotBuffer <= 0 {
		cfg.Channels.SnapshotBuffer = 4
	}
	if cfg.Channels.BookBuffer <= 0 {
		cfg.Channels.BookBuffer = 256
	}
	if cfg.Channels.StateBuffer <= 0 {
		cfg.Channels.StateBuffer = 256
	}
	if cfg.Channels.MarketBuffer <= 0 {
		cfg.Channels.MarketBuffer = 512
	}
	if cfg.Rest.RequestsPerSecond <= 0 {
		cfg.Rest.RequestsPerSecond = 2
	}
	if cfg.Rest.Burst <= 0 {
		cfg.Rest.Burst = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Metrics.CloudWatch.Namespace == "" {
		cfg.Metrics.CloudWatch.Namespace = "MDCapture"
	}
}

func validateConfig(cfg *Config) error {
	if err := validateEndpoint(cfg.BinanceRestEndpoint, "binance_rest_endpoint", "http", "https"); err != nil {
		return err
	}
	if err := validateEndpoint(cfg.BinanceWssEndpoint, "binance_wss_endpoint", "ws", "wss"); err != nil {
		return err
	}

	if !instrumentRegexp.MatchString(cfg.Instrument) {
		return fmt.Errorf("instrument %q must be an uppercase symbol", cfg.Instrument)
	}

	if cfg.MaxDepth <= 0 || cfg.MaxDepth > maxDepthLimit {
		return fmt.Errorf("max_depth must be in 1..%d, got %d", maxDepthLimit, cfg.MaxDepth)
	}

	// The exchange's per-IP connection policy is not published; anything
	// >= 1 is accepted and left to operator judgement.
	if cfg.Connections < 1 {
		return fmt.Errorf("connections must be at least 1, got %d", cfg.Connections)
	}

	if cfg.ReconnectTimeout <= 0 {
		return fmt.Errorf("reconnect_timeout must be greater than 0 ms")
	}
	if cfg.SnapshotUpdateInterval <= 0 {
		return fmt.Errorf("snapshot_update_interval must be greater than 0 ms")
	}

	return nil
}

func validateEndpoint(raw, name string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of the schemes %v, got %q", name, schemes, u.Scheme)
}
