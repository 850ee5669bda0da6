// Package session owns the device connection lifecycle.
//
// A Controller moves through Connecting, Streaming and Backoff until a
// stop is observed (Stopped) or reconnect attempts are exhausted. Every
// connection attempt gets a fresh demultiplexer, so bytes from a dead
// connection never leak into the next one.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/gatehouse/demux"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/metrics"
	"github.com/pithecene-io/gatehouse/types"
)

// ErrBackoffExhausted is returned by Run when MaxAttempts consecutive
// connection failures have occurred. It is fatal.
var ErrBackoffExhausted = errors.New("reconnect attempts exhausted")

// Defaults follow the device vendor's recommended client behaviour.
const (
	DefaultIdleTimeout       = 15 * time.Second
	DefaultBackoffBase       = 5 * time.Second
	DefaultBackoffMax        = 5 * time.Minute
	DefaultMaxAttempts       = 5
	DefaultReconnectInterval = 10 * time.Minute
	DefaultPollInterval      = time.Second
)

// Stream is one open connection yielding chunks.
type Stream interface {
	// Read returns the next chunk, or io.EOF at end of stream.
	Read() ([]byte, error)
	// Boundary returns the delimiter announced by the server, or "".
	Boundary() string
	Close() error
}

// Dialer opens a new Stream. ctx bounds the whole connection.
type Dialer func(ctx context.Context) (Stream, error)

// Handler consumes complete parts, in stream order, on the session goroutine.
type Handler interface {
	HandlePart(ctx context.Context, part *demux.Part)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, part *demux.Part)

// HandlePart calls f.
func (f HandlerFunc) HandlePart(ctx context.Context, part *demux.Part) { f(ctx, part) }

// Config configures a Controller. Zero values take defaults.
type Config struct {
	IdleTimeout time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// MaxAttempts is the number of consecutive failed connections
	// tolerated before Run gives up.
	MaxAttempts int
	// ReconnectInterval forces a fresh connection after this long in
	// Streaming. Negative disables; zero takes the default.
	ReconnectInterval time.Duration
	// PollInterval is how often the StopSignal is polled while waiting.
	PollInterval time.Duration
	// Boundary overrides the delimiter. Empty uses the server's
	// announced boundary, falling back to demux.DefaultBoundary.
	Boundary      string
	MaxBufferSize int
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *log.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(c *Controller) { c.metrics = m } }

// WithStopSignal sets an external stop source in addition to ctx.
func WithStopSignal(s StopSignal) Option { return func(c *Controller) { c.stop = s } }

// WithTransitionHook observes every state change, on the session goroutine.
func WithTransitionHook(fn func(types.Transition)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

// WithClock overrides the time source for transition timestamps.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithWait overrides how backoff delays are waited out. The function must
// return early with a non-nil error when the session should stop.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.wait = fn }
}

// Controller drives one device session. Not safe for concurrent Run calls.
type Controller struct {
	cfg          Config
	dial         Dialer
	handler      Handler
	stop         StopSignal
	logger       *log.Logger
	metrics      *metrics.Collector
	onTransition func(types.Transition)
	now          func() time.Time
	wait         func(ctx context.Context, d time.Duration) error

	state types.SessionState
}

// New creates a Controller.
func New(cfg Config, dial Dialer, handler Handler, opts ...Option) (*Controller, error) {
	if dial == nil {
		return nil, errors.New("session requires a dialer")
	}
	if handler == nil {
		return nil, errors.New("session requires a part handler")
	}
	cfg.applyDefaults()

	c := &Controller{
		cfg:     cfg,
		dial:    dial,
		handler: handler,
		stop:    StopFunc(func() bool { return false }),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.wait == nil {
		c.wait = c.pollingWait
	}
	return c, nil
}

// State returns the current state. Only meaningful from the session
// goroutine or after Run returns.
func (c *Controller) State() types.SessionState {
	return c.state
}

// errStopped marks a wait interrupted by the stop signal.
var errStopped = errors.New("stop signal observed")

// Run drives the session until ctx is canceled or the stop signal fires
// (returns nil), or reconnects are exhausted (returns ErrBackoffExhausted).
func (c *Controller) Run(ctx context.Context) error {
	c.transition(types.SessionConnecting, "start")

	failures := 0
	var lastErr error

	for {
		if cause, stop := c.shouldStop(ctx); stop {
			c.transition(types.SessionStopped, cause)
			return nil
		}

		switch c.state {
		case types.SessionConnecting:
			healthy, cause, err := c.connectAndStream(ctx)
			if healthy {
				failures = 0
			}
			if errors.Is(err, errStopped) || ctx.Err() != nil {
				if ctx.Err() != nil {
					cause = causeCanceled
				}
				c.transition(types.SessionStopped, cause)
				return nil
			}
			if err == nil {
				err = errors.New(cause)
			}
			lastErr = err
			if cause == causePeriodic {
				c.transition(types.SessionBackoff, cause)
				c.transition(types.SessionConnecting, "reconnect")
				continue
			}
			failures++
			c.metrics.IncReconnect()
			c.transition(types.SessionBackoff, cause)

			if failures > c.cfg.MaxAttempts {
				c.logger.Error("giving up on device", map[string]any{
					"failures": failures,
					"error":    errString(lastErr),
				})
				c.transition(types.SessionStopped, "backoff exhausted")
				return fmt.Errorf("%w after %d consecutive failures: %v", ErrBackoffExhausted, failures, lastErr)
			}

			delay := c.backoffDelay(failures)
			c.logger.Info("reconnecting", map[string]any{
				"attempt":  failures,
				"max":      c.cfg.MaxAttempts,
				"delay":    delay.String(),
				"previous": cause,
			})
			if err := c.wait(ctx, delay); err != nil {
				c.transition(types.SessionStopped, stopCause(ctx, err))
				return nil
			}
			c.transition(types.SessionConnecting, "backoff elapsed")

		default:
			return fmt.Errorf("session in unexpected state %q", c.state)
		}
	}
}

// backoffDelay returns base * 2^(n-1), capped at BackoffMax.
func (c *Controller) backoffDelay(n int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.cfg.BackoffMax {
			return c.cfg.BackoffMax
		}
	}
	return min(d, c.cfg.BackoffMax)
}

const (
	causeIdle     = "idle timeout"
	causeEOF      = "stream ended"
	causePeriodic = "periodic reconnect"
	causeCanceled = "context canceled"
	causeLockFile = "stop signal"
)

func (c *Controller) shouldStop(ctx context.Context) (string, bool) {
	if ctx.Err() != nil {
		return causeCanceled, true
	}
	if c.stop.Stopped() {
		return causeLockFile, true
	}
	return "", false
}

func stopCause(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return causeCanceled
	}
	if errors.Is(err, errStopped) {
		return causeLockFile
	}
	return err.Error()
}

type readResult struct {
	chunk []byte
	err   error
}

// connectAndStream performs one connection attempt. healthy reports
// whether at least one chunk arrived. cause describes why it ended.
func (c *Controller) connectAndStream(ctx context.Context) (healthy bool, cause string, err error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := c.dial(connCtx)
	if err != nil {
		c.metrics.IncConnectFailure()
		c.logger.Warn("connection failed", map[string]any{"error": err.Error()})
		if cause, stop := c.shouldStop(ctx); stop {
			return false, cause, errStopped
		}
		return false, "connect failed: " + err.Error(), err
	}

	boundary := c.cfg.Boundary
	if boundary == "" {
		boundary = s.Boundary()
	}
	d := demux.New(demux.Config{Boundary: boundary, MaxBufferSize: c.cfg.MaxBufferSize})

	c.metrics.IncConnect()
	c.transition(types.SessionStreaming, "connected")

	chunks := make(chan readResult)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			b, err := s.Read()
			select {
			case chunks <- readResult{chunk: b, err: err}:
			case <-connCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		_ = s.Close()
		<-readerDone
	}()

	idle := time.NewTimer(c.cfg.IdleTimeout)
	defer idle.Stop()
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	var periodic <-chan time.Time
	if c.cfg.ReconnectInterval > 0 {
		t := time.NewTimer(c.cfg.ReconnectInterval)
		defer t.Stop()
		periodic = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return healthy, causeCanceled, errStopped

		case <-poll.C:
			if c.stop.Stopped() {
				return healthy, causeLockFile, errStopped
			}

		case <-idle.C:
			c.metrics.IncIdleTimeout()
			c.logger.Warn("no data received, reconnecting", map[string]any{
				"idle_timeout": c.cfg.IdleTimeout.String(),
				"buffered":     d.Buffered(),
			})
			return healthy, causeIdle, nil

		case <-periodic:
			c.logger.Info("periodic reconnection triggered", map[string]any{
				"interval": c.cfg.ReconnectInterval.String(),
			})
			return healthy, causePeriodic, nil

		case r := <-chunks:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					c.logger.Warn("device closed the stream", nil)
					return healthy, causeEOF, nil
				}
				c.logger.Warn("stream read failed", map[string]any{"error": r.err.Error()})
				return healthy, "read failed: " + r.err.Error(), r.err
			}
			if len(r.chunk) == 0 {
				continue
			}
			healthy = true
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.cfg.IdleTimeout)
			c.metrics.AddChunk(len(r.chunk))

			d.Feed(r.chunk)
			if err := c.drain(ctx, d); err != nil {
				return healthy, "frame fault: " + err.Error(), err
			}
			if c.stop.Stopped() {
				return healthy, causeLockFile, errStopped
			}
		}
	}
}

// drain hands every complete part to the handler. It returns only fatal
// frame errors; anything else is logged and skipped.
func (c *Controller) drain(ctx context.Context, d *demux.Demuxer) error {
	for {
		part, err := d.Next()
		if err != nil {
			fatal := demux.IsFatalFrameError(err)
			c.metrics.IncFrameError(fatal)
			if fatal {
				c.logger.Error("fatal framing fault", map[string]any{"error": err.Error()})
				return err
			}
			c.logger.Warn("skipping malformed part", map[string]any{"error": err.Error()})
			continue
		}
		if part == nil {
			return nil
		}
		c.metrics.IncPartEmitted()
		c.handler.HandlePart(ctx, part)
	}
}

// pollingWait sleeps for d, returning early on ctx cancellation or stop.
func (c *Controller) pollingWait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			if c.stop.Stopped() {
				return errStopped
			}
		case <-timer.C:
			return nil
		}
	}
}

func (c *Controller) transition(to types.SessionState, cause string) {
	tr := types.Transition{From: c.state, To: to, Cause: cause, At: c.now()}
	c.state = to
	fields := map[string]any{"from": string(tr.From), "to": string(tr.To), "cause": cause}
	if to == types.SessionBackoff || to == types.SessionStopped {
		c.logger.Info("session state", fields)
	} else {
		c.logger.Debug("session state", fields)
	}
	if c.onTransition != nil {
		c.onTransition(tr)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
