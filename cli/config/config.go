package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/gatehouse/lode"
	"github.com/pithecene-io/gatehouse/stream"
)

// Config represents a gatehouse.yaml configuration file.
// CLI flags always override config values.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Session SessionConfig `yaml:"session"`
	Relay   RelayConfig   `yaml:"relay"`
	Images  StorageConfig `yaml:"images"`
	Journal StorageConfig `yaml:"journal"`
	Spool   SpoolConfig   `yaml:"spool"`
	Notify  NotifyConfig  `yaml:"notify"`
	Logging LoggingConfig `yaml:"logging"`

	// UnsetVars lists ${VAR} references with no value at load time.
	UnsetVars []string `yaml:"-"`
}

// DeviceConfig identifies the access controller and how to authenticate.
type DeviceConfig struct {
	Address   string `yaml:"address"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Auth      string `yaml:"auth"`
	Path      string `yaml:"path"`
	Boundary  string `yaml:"boundary"`
	ChunkSize int    `yaml:"chunk_size"`
	// Capture records the raw stream to a file for replay.
	Capture string `yaml:"capture,omitempty"`
}

// SessionConfig holds reconnect behaviour.
type SessionConfig struct {
	IdleTimeout    Duration `yaml:"idle_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	BackoffBase    Duration `yaml:"backoff_base"`
	BackoffMax     Duration `yaml:"backoff_max"`
	MaxAttempts    int      `yaml:"max_attempts"`
	// ReconnectInterval nil takes the default; an explicit 0 disables.
	ReconnectInterval *Duration `yaml:"reconnect_interval,omitempty"`
	LockFile          string    `yaml:"lock_file"`
}

// RelayConfig holds the downstream API settings.
type RelayConfig struct {
	URL          string            `yaml:"url"`
	Token        string            `yaml:"token"`
	PingURL      string            `yaml:"ping_url"`
	PingInterval Duration          `yaml:"ping_interval"`
	Timeout      Duration          `yaml:"timeout"`
	RetryBase    Duration          `yaml:"retry_base"`
	MaxAttempts  int               `yaml:"max_attempts"`
	MaxInFlight  int               `yaml:"max_in_flight"`
	Headers      map[string]string `yaml:"headers,omitempty"`
}

// StorageConfig configures an image or journal store.
type StorageConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// SpoolConfig locates the pending-delivery spool. Empty disables it.
type SpoolConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig holds optional outcome notifiers.
type NotifyConfig struct {
	Redis   *RedisNotifyConfig   `yaml:"redis,omitempty"`
	Webhook *WebhookNotifyConfig `yaml:"webhook,omitempty"`
}

// RedisNotifyConfig configures the Redis notifier.
type RedisNotifyConfig struct {
	URL       string   `yaml:"url"`
	Channel   string   `yaml:"channel,omitempty"`
	RecentKey string   `yaml:"recent_key,omitempty"`
	RecentMax int64    `yaml:"recent_max,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"`
	Retries   *int     `yaml:"retries,omitempty"`
}

// WebhookNotifyConfig configures the webhook notifier.
type WebhookNotifyConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	Only    []string          `yaml:"only,omitempty"`
}

// LoggingConfig controls log level and the optional dated log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ReconnectIntervalValue maps the config value onto session.Config,
// where 0 takes the default and a negative value disables.
func (s SessionConfig) ReconnectIntervalValue() time.Duration {
	if s.ReconnectInterval == nil {
		return 0
	}
	if s.ReconnectInterval.Duration <= 0 {
		return -1
	}
	return s.ReconnectInterval.Duration
}

// ImageStorage converts images settings to a lode storage config.
func (c *Config) ImageStorage() lode.StorageConfig {
	return c.Images.storage()
}

// JournalStorage converts journal settings to a lode storage config.
func (c *Config) JournalStorage() lode.StorageConfig {
	return c.Journal.storage()
}

func (s StorageConfig) storage() lode.StorageConfig {
	backend := lode.Backend(s.Backend)
	if backend == "" {
		backend = lode.BackendFS
	}
	return lode.StorageConfig{
		Backend:      backend,
		Path:         s.Path,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		UsePathStyle: s.S3PathStyle,
	}
}

// Validate reports every problem at once. A nil result means the config
// can start an ingester.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Device.Address == "" {
		add("device.address is required")
	}
	if _, err := stream.ParseAuthMode(c.Device.Auth); err != nil {
		add("device.auth: %w", err)
	}
	if c.Device.ChunkSize < 0 {
		add("device.chunk_size must be >= 0, got %d", c.Device.ChunkSize)
	}

	if c.Relay.URL == "" {
		add("relay.url is required")
	}
	if c.Relay.Token == "" {
		add("relay.token is required")
	}
	if c.Relay.MaxAttempts < 0 {
		add("relay.max_attempts must be >= 0, got %d", c.Relay.MaxAttempts)
	}
	if c.Relay.MaxInFlight < 0 {
		add("relay.max_in_flight must be >= 0, got %d", c.Relay.MaxInFlight)
	}
	if c.Session.MaxAttempts < 0 {
		add("session.max_attempts must be >= 0, got %d", c.Session.MaxAttempts)
	}
	if c.Session.BackoffMax.Duration > 0 && c.Session.BackoffMax.Duration < c.Session.BackoffBase.Duration {
		add("session.backoff_max (%s) is below session.backoff_base (%s)", c.Session.BackoffMax, c.Session.BackoffBase)
	}

	if c.Images.Enabled {
		if err := c.ImageStorage().Validate(); err != nil {
			add("images: %w", err)
		}
	}
	if c.Journal.Enabled {
		if err := c.JournalStorage().Validate(); err != nil {
			add("journal: %w", err)
		}
	}

	if r := c.Notify.Redis; r != nil && r.URL == "" {
		add("notify.redis.url is required when notify.redis is set")
	}
	if w := c.Notify.Webhook; w != nil && w.URL == "" {
		add("notify.webhook.url is required when notify.webhook is set")
	}

	return errors.Join(errs...)
}
