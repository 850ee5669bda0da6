package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gatehouse/cli/config"
	"github.com/pithecene-io/gatehouse/cli/tui"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/metrics"
	"github.com/pithecene-io/gatehouse/runtime"
	"github.com/pithecene-io/gatehouse/types"
)

// Exit codes for every command.
const (
	exitStopped = runtime.ExitCodeStopped
	exitFatal   = runtime.ExitCodeFatal
	exitConfig  = runtime.ExitCodeConfig
)

// RunCommand returns the run command, the only command that connects to
// a device.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Ingest the device alert stream and relay events",
		Flags: []cli.Flag{
			ConfigFlag,
			// Device flags
			&cli.StringFlag{
				Name:  "device",
				Usage: "Device host, host:port or URL",
			},
			&cli.StringFlag{
				Name:  "username",
				Usage: "Device username",
			},
			&cli.StringFlag{
				Name:  "password",
				Usage: "Device password",
			},
			&cli.StringFlag{
				Name:  "auth",
				Usage: "Device auth: digest or basic",
			},
			&cli.StringFlag{
				Name:  "boundary",
				Usage: "Override the multipart boundary marker",
			},
			&cli.StringFlag{
				Name:  "capture",
				Usage: "Record the raw stream to this file (.zst and .lz4 compress)",
			},
			// Relay flags
			&cli.StringFlag{
				Name:  "relay-url",
				Usage: "Relay API base URL",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Relay API token",
			},
			&cli.StringFlag{
				Name:  "ping-url",
				Usage: "Heartbeat base URL (empty disables)",
			},
			&cli.IntFlag{
				Name:  "max-in-flight",
				Usage: "Concurrent relay requests (0 = unbounded)",
			},
			// Session flags
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "Reconnect after this long without data",
			},
			&cli.StringFlag{
				Name:  "lock-file",
				Usage: "Stop gracefully once this file exists",
			},
			// Storage flags
			&cli.StringFlag{
				Name:  "images-path",
				Usage: "Save event images under this fs directory",
			},
			&cli.StringFlag{
				Name:  "journal-path",
				Usage: "Journal delivery outcomes under this fs directory",
			},
			&cli.StringFlag{
				Name:  "spool",
				Usage: "Persist undelivered tasks to this file across restarts",
			},
			// Output flags
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-dir",
				Usage: "Also write a dated log file in this directory",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON session report to this path (- for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the startup banner",
			},
			NoColorFlag,
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration:\n%v", err), exitConfig)
	}

	sessionID := uuid.NewString()
	logger, logPath, err := log.New(log.Options{
		Level: cfg.Logging.Level,
		Dir:   cfg.Logging.Dir,
		Fields: map[string]any{
			"device":     cfg.Device.Address,
			"session_id": sessionID,
		},
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("logging: %v", err), exitConfig)
	}
	defer func() { _ = logger.Sync() }()

	for _, name := range cfg.UnsetVars {
		logger.Warn("config references unset variable", map[string]any{"var": name})
	}

	backend := ""
	if cfg.Images.Enabled {
		backend = string(cfg.ImageStorage().Backend)
	}
	collector := metrics.NewCollector(cfg.Device.Address, backend, sessionID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	icfg, err := buildIngesterConfig(ctx, cfg, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	if path := cfg.Device.Capture; path != "" {
		w, err := runtime.CreateCapture(path)
		if err != nil {
			return cli.Exit(err.Error(), exitConfig)
		}
		defer func() { _ = w.Close() }()
		icfg.Dial = runtime.RecordingDialer(icfg.Dial, w, logger)
	}

	ingester, err := runtime.NewIngester(icfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	if !c.Bool("quiet") {
		fmt.Fprintln(os.Stderr, tui.Banner(bannerInfo(cfg, sessionID, logPath), c.Bool("no-color") || !isStderrTTY()))
	}

	result := ingester.Run(ctx)

	if path := c.String("report"); path != "" {
		if err := runtime.WriteSessionReport(runtime.BuildSessionReport(result), path); err != nil {
			logger.Error("failed to write session report", map[string]any{"path": path, "error": err.Error()})
		}
	}

	status, code := runtime.DetermineOutcome(result)
	if code == exitStopped {
		return nil
	}
	return cli.Exit(fmt.Sprintf("%s: %v", status, result.Err), code)
}

// resolveConfig layers --config, then GATEHOUSE_* variables, then flags.
func resolveConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	cfg.Device.Address = resolveString(c, "device", cfg.Device.Address)
	cfg.Device.Username = resolveString(c, "username", cfg.Device.Username)
	cfg.Device.Password = resolveString(c, "password", cfg.Device.Password)
	cfg.Device.Auth = resolveString(c, "auth", cfg.Device.Auth)
	cfg.Device.Boundary = resolveString(c, "boundary", cfg.Device.Boundary)
	cfg.Device.Capture = resolveString(c, "capture", cfg.Device.Capture)

	cfg.Relay.URL = resolveString(c, "relay-url", cfg.Relay.URL)
	cfg.Relay.Token = resolveString(c, "token", cfg.Relay.Token)
	cfg.Relay.PingURL = resolveString(c, "ping-url", cfg.Relay.PingURL)
	cfg.Relay.MaxInFlight = resolveInt(c, "max-in-flight", cfg.Relay.MaxInFlight)

	cfg.Session.IdleTimeout.Duration = resolveDuration(c, "idle-timeout", cfg.Session.IdleTimeout.Duration)
	cfg.Session.LockFile = resolveString(c, "lock-file", cfg.Session.LockFile)

	if c.IsSet("images-path") {
		cfg.Images = config.StorageConfig{Enabled: true, Backend: "fs", Path: c.String("images-path")}
	}
	if c.IsSet("journal-path") {
		cfg.Journal = config.StorageConfig{Enabled: true, Backend: "fs", Path: c.String("journal-path")}
	}
	cfg.Spool.Path = resolveString(c, "spool", cfg.Spool.Path)

	cfg.Logging.Level = resolveString(c, "log-level", cfg.Logging.Level)
	cfg.Logging.Dir = resolveString(c, "log-dir", cfg.Logging.Dir)

	return cfg, nil
}

// resolveString returns the flag when set explicitly, then the config
// value, then the flag default.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) || cfgVal == "" {
		return c.String(name)
	}
	return cfgVal
}

func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int(name)
	}
	return cfgVal
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}

func bannerInfo(cfg *config.Config, sessionID, logPath string) tui.BannerInfo {
	info := tui.BannerInfo{
		Version: types.Version,
		Device:  cfg.Device.Address,
		Relay:   cfg.Relay.URL,
		Session: sessionID,
	}
	if cfg.Images.Enabled {
		info.Extras = append(info.Extras, [2]string{"Images", cfg.Images.Path})
	}
	if cfg.Journal.Enabled {
		info.Extras = append(info.Extras, [2]string{"Journal", cfg.Journal.Path})
	}
	info.Extras = append(info.Extras,
		[2]string{"Capture", cfg.Device.Capture},
		[2]string{"Spool", cfg.Spool.Path},
		[2]string{"Lock file", cfg.Session.LockFile},
		[2]string{"Log file", logPath},
	)
	return info
}
