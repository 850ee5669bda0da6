package cmd

import (
	"context"
	"fmt"

	"github.com/pithecene-io/gatehouse/adapter"
	"github.com/pithecene-io/gatehouse/adapter/redis"
	"github.com/pithecene-io/gatehouse/adapter/webhook"
	"github.com/pithecene-io/gatehouse/cli/config"
	"github.com/pithecene-io/gatehouse/delivery"
	"github.com/pithecene-io/gatehouse/lode"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/metrics"
	"github.com/pithecene-io/gatehouse/runtime"
	"github.com/pithecene-io/gatehouse/session"
	"github.com/pithecene-io/gatehouse/spool"
	"github.com/pithecene-io/gatehouse/stream"
)

// buildIngesterConfig turns a validated config into ingester wiring.
// Storage factories are created here; nothing connects until Run.
func buildIngesterConfig(ctx context.Context, cfg *config.Config, logger *log.Logger, m *metrics.Collector) (runtime.IngesterConfig, error) {
	auth, err := stream.ParseAuthMode(cfg.Device.Auth)
	if err != nil {
		return runtime.IngesterConfig{}, err
	}
	src, err := stream.New(stream.Config{
		Address:        cfg.Device.Address,
		Path:           cfg.Device.Path,
		Username:       cfg.Device.Username,
		Password:       cfg.Device.Password,
		Auth:           auth,
		ConnectTimeout: cfg.Session.ConnectTimeout.Duration,
		ChunkSize:      cfg.Device.ChunkSize,
	})
	if err != nil {
		return runtime.IngesterConfig{}, fmt.Errorf("device: %w", err)
	}

	icfg := runtime.IngesterConfig{
		Device: src.URL(),
		Dial:   runtime.SourceDialer(src),
		Session: session.Config{
			IdleTimeout:       cfg.Session.IdleTimeout.Duration,
			BackoffBase:       cfg.Session.BackoffBase.Duration,
			BackoffMax:        cfg.Session.BackoffMax.Duration,
			MaxAttempts:       cfg.Session.MaxAttempts,
			ReconnectInterval: cfg.Session.ReconnectIntervalValue(),
			Boundary:          cfg.Device.Boundary,
		},
		Delivery: delivery.Config{
			URL:     cfg.Relay.URL,
			Token:   cfg.Relay.Token,
			Headers: cfg.Relay.Headers,
			Timeout: cfg.Relay.Timeout.Duration,
			Policy: delivery.Policy{
				Base:        cfg.Relay.RetryBase.Duration,
				MaxAttempts: cfg.Relay.MaxAttempts,
			},
			MaxInFlight: cfg.Relay.MaxInFlight,
		},
		Stop:    session.LockFile{Path: cfg.Session.LockFile},
		Logger:  logger,
		Metrics: m,
	}

	if cfg.Relay.PingURL != "" {
		icfg.Heartbeat = &delivery.HeartbeatConfig{
			URL:      cfg.Relay.PingURL,
			Token:    cfg.Relay.Token,
			Interval: cfg.Relay.PingInterval.Duration,
			Timeout:  cfg.Relay.Timeout.Duration,
		}
	}

	if cfg.Images.Enabled {
		factory, err := lode.NewStoreFactory(ctx, cfg.ImageStorage())
		if err != nil {
			return runtime.IngesterConfig{}, fmt.Errorf("images: %w", err)
		}
		icfg.Images = lode.NewImageStore(factory)
	}

	if cfg.Journal.Enabled {
		factory, err := lode.NewStoreFactory(ctx, cfg.JournalStorage())
		if err != nil {
			return runtime.IngesterConfig{}, fmt.Errorf("journal: %w", err)
		}
		journal, err := lode.NewJournal(factory)
		if err != nil {
			return runtime.IngesterConfig{}, fmt.Errorf("journal: %w", err)
		}
		icfg.Journal = journal
	}

	if cfg.Spool.Path != "" {
		icfg.Spool = spool.New(cfg.Spool.Path)
	}

	notifiers, err := buildNotifiers(cfg.Notify)
	if err != nil {
		return runtime.IngesterConfig{}, err
	}
	icfg.Notifiers = notifiers

	return icfg, nil
}

func buildNotifiers(cfg config.NotifyConfig) ([]adapter.Notifier, error) {
	var out []adapter.Notifier

	if r := cfg.Redis; r != nil {
		n, err := redis.New(redis.Config{
			URL:       r.URL,
			Channel:   r.Channel,
			RecentKey: r.RecentKey,
			RecentMax: r.RecentMax,
			Timeout:   r.Timeout.Duration,
			Retries:   retriesOr(r.Retries, redis.DefaultRetries),
		})
		if err != nil {
			return nil, fmt.Errorf("notify.redis: %w", err)
		}
		out = append(out, n)
	}

	if w := cfg.Webhook; w != nil {
		n, err := webhook.New(webhook.Config{
			URL:     w.URL,
			Headers: w.Headers,
			Timeout: w.Timeout.Duration,
			Retries: retriesOr(w.Retries, webhook.DefaultRetries),
			Only:    w.Only,
		})
		if err != nil {
			for _, prev := range out {
				_ = prev.Close()
			}
			return nil, fmt.Errorf("notify.webhook: %w", err)
		}
		out = append(out, n)
	}

	return out, nil
}

func retriesOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
