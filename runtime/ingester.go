// Package runtime wires a device session, the extraction pipeline and the
// delivery queue into one ingester, and replays or records raw captures.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/gatehouse/adapter"
	"github.com/pithecene-io/gatehouse/delivery"
	"github.com/pithecene-io/gatehouse/extract"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/metrics"
	"github.com/pithecene-io/gatehouse/session"
	"github.com/pithecene-io/gatehouse/spool"
	"github.com/pithecene-io/gatehouse/stream"
	"github.com/pithecene-io/gatehouse/types"
)

// IngesterConfig wires one device session to the relay.
type IngesterConfig struct {
	// Device identifies the device in logs, metrics and notifications.
	Device string
	// Dial opens the device stream (required). See SourceDialer.
	Dial     session.Dialer
	Session  session.Config
	Delivery delivery.Config
	// Heartbeat is optional; nil disables pinging.
	Heartbeat *delivery.HeartbeatConfig
	// Images is optional; nil discards artifacts.
	Images ImageSaver
	// Journal is optional; nil skips outcome journaling.
	Journal   JournalWriter
	Notifiers []adapter.Notifier
	// Spool is optional; nil drops tasks abandoned at shutdown.
	Spool *spool.Spool
	Stop  session.StopSignal

	Logger  *log.Logger
	Metrics *metrics.Collector

	// Test hooks.
	DeliveryOptions []delivery.Option
	SessionOptions  []session.Option
}

// IngestResult summarizes a finished ingester run.
type IngestResult struct {
	StartedAt time.Time
	Duration  time.Duration
	// Err is the fatal session error, nil on a normal stop.
	Err error
	// Resumed is the number of spooled tasks re-enqueued at start.
	Resumed int
	// Abandoned is the number of tasks still pending at shutdown.
	Abandoned int
	// Spooled reports whether the abandoned tasks were persisted.
	Spooled bool
	Metrics metrics.Snapshot
}

// Ingester runs the device session, delivery queue and heartbeat together.
type Ingester struct {
	cfg      IngesterConfig
	logger   *log.Logger
	queue    *delivery.Queue
	recorder *Recorder
	pipeline *Pipeline
	session  *session.Controller
}

// NewIngester builds every component. It performs no I/O.
func NewIngester(cfg IngesterConfig) (*Ingester, error) {
	if cfg.Dial == nil {
		return nil, errors.New("ingester requires a dialer")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	recorder := NewRecorder(cfg.Device, cfg.Journal, cfg.Notifiers, cfg.Metrics, logger)

	qopts := append([]delivery.Option{
		delivery.WithLogger(logger),
		delivery.WithSink(recorder),
	}, cfg.DeliveryOptions...)
	queue, err := delivery.New(cfg.Delivery, qopts...)
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}

	pipeline := NewPipeline(extract.New(extract.WithLogger(logger)), queue, cfg.Images, cfg.Metrics, logger)

	sopts := []session.Option{
		session.WithLogger(logger),
		session.WithMetrics(cfg.Metrics),
	}
	if cfg.Stop != nil {
		sopts = append(sopts, session.WithStopSignal(cfg.Stop))
	}
	sopts = append(sopts, cfg.SessionOptions...)
	ctrl, err := session.New(cfg.Session, cfg.Dial, pipeline, sopts...)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	return &Ingester{
		cfg:      cfg,
		logger:   logger,
		queue:    queue,
		recorder: recorder,
		pipeline: pipeline,
		session:  ctrl,
	}, nil
}

// Run blocks until the session stops. Shutdown order: session, heartbeat,
// delivery queue (pending tasks abandoned and spooled), image uploads,
// notifiers.
func (in *Ingester) Run(ctx context.Context) *IngestResult {
	result := &IngestResult{StartedAt: time.Now()}

	result.Resumed = in.resume()

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	if in.cfg.Heartbeat != nil {
		hb, err := delivery.NewHeartbeat(*in.cfg.Heartbeat, in.logger, func(err error) {
			in.cfg.Metrics.IncHeartbeat(err == nil)
		})
		if err != nil {
			in.logger.Warn("heartbeat disabled", map[string]any{"error": err.Error()})
		} else {
			hbWG.Add(1)
			go func() {
				defer hbWG.Done()
				hb.Run(hbCtx)
			}()
		}
	}

	result.Err = in.session.Run(ctx)

	hbCancel()
	hbWG.Wait()

	abandoned := in.queue.Shutdown()
	result.Abandoned = len(abandoned)
	result.Spooled = in.persist(abandoned)

	in.pipeline.Wait()
	in.recorder.Close()

	result.Duration = time.Since(result.StartedAt)
	result.Metrics = in.cfg.Metrics.Snapshot()
	in.logger.Info("ingester stopped", result.Metrics.Fields())
	return result
}

// State returns the current session state.
func (in *Ingester) State() types.SessionState {
	return in.session.State()
}

// resume re-enqueues spooled tasks. The spool file is left in place
// until shutdown rewrites it, so a crash cannot lose them.
func (in *Ingester) resume() int {
	if in.cfg.Spool == nil {
		return 0
	}
	tasks, err := in.cfg.Spool.Load()
	if err != nil {
		in.logger.Warn("spool partially unreadable", map[string]any{
			"path":      in.cfg.Spool.Path(),
			"recovered": len(tasks),
			"error":     err.Error(),
		})
	}
	n := 0
	for _, t := range tasks {
		if err := in.queue.EnqueueTask(t); err != nil {
			in.logger.Warn("spooled task not resumed", map[string]any{"task_id": t.ID, "error": err.Error()})
			continue
		}
		n++
	}
	if n > 0 {
		in.logger.Info("resumed spooled deliveries", map[string]any{"count": n})
	}
	return n
}

func (in *Ingester) persist(tasks []types.DeliveryTask) bool {
	if in.cfg.Spool == nil {
		if len(tasks) > 0 {
			in.logger.Warn("pending deliveries dropped, no spool configured", map[string]any{"count": len(tasks)})
		}
		return false
	}
	if err := in.cfg.Spool.Save(tasks); err != nil {
		in.logger.Error("spool write failed", map[string]any{
			"path":  in.cfg.Spool.Path(),
			"count": len(tasks),
			"error": err.Error(),
		})
		return false
	}
	if len(tasks) > 0 {
		in.logger.Info("pending deliveries spooled", map[string]any{
			"path":  in.cfg.Spool.Path(),
			"count": len(tasks),
		})
	}
	return true
}

// SourceDialer adapts a stream source to a session dialer.
func SourceDialer(src *stream.Source) session.Dialer {
	return func(ctx context.Context) (session.Stream, error) {
		s, err := src.Open(ctx)
		if err != nil {
			// Never return a typed nil inside the interface.
			return nil, err
		}
		return s, nil
	}
}
