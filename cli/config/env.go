package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEHOUSE_"

// envOverrides lists the settings that may come from the environment,
// typically secrets injected by a service manager.
type envOverrides struct {
	DeviceAddress  string            `env:"DEVICE_ADDRESS"`
	DeviceUsername string            `env:"DEVICE_USERNAME"`
	DevicePassword string            `env:"DEVICE_PASSWORD"`
	DeviceAuth     string            `env:"DEVICE_AUTH"`
	RelayURL       string            `env:"RELAY_URL"`
	RelayToken     string            `env:"RELAY_TOKEN"`
	RelayPingURL   string            `env:"RELAY_PING_URL"`
	RelayHeaders   map[string]string `env:"RELAY_HEADERS"`
	IdleTimeout    time.Duration     `env:"IDLE_TIMEOUT"`
	LockFile       string            `env:"LOCK_FILE"`
	SpoolPath      string            `env:"SPOOL_PATH"`
	RedisURL       string            `env:"REDIS_URL"`
	LogLevel       string            `env:"LOG_LEVEL"`
	LogDir         string            `env:"LOG_DIR"`
}

// ApplyEnv overlays GATEHOUSE_* variables onto c. Unset variables leave
// the file values alone. Flags are applied after this and win.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Device.Address, o.DeviceAddress)
	set(&c.Device.Username, o.DeviceUsername)
	set(&c.Device.Password, o.DevicePassword)
	set(&c.Device.Auth, o.DeviceAuth)
	set(&c.Relay.URL, o.RelayURL)
	set(&c.Relay.Token, o.RelayToken)
	set(&c.Relay.PingURL, o.RelayPingURL)
	set(&c.Session.LockFile, o.LockFile)
	set(&c.Spool.Path, o.SpoolPath)
	set(&c.Logging.Level, o.LogLevel)
	set(&c.Logging.Dir, o.LogDir)

	if o.IdleTimeout > 0 {
		c.Session.IdleTimeout.Duration = o.IdleTimeout
	}
	if len(o.RelayHeaders) > 0 {
		if c.Relay.Headers == nil {
			c.Relay.Headers = make(map[string]string, len(o.RelayHeaders))
		}
		for k, v := range o.RelayHeaders {
			c.Relay.Headers[k] = v
		}
	}
	if o.RedisURL != "" {
		if c.Notify.Redis == nil {
			c.Notify.Redis = &RedisNotifyConfig{}
		}
		c.Notify.Redis.URL = o.RedisURL
	}
	return nil
}
