// Package delivery relays eligible access events to the downstream API.
//
// Each task runs on its own goroutine, so a task waiting out a backoff
// never holds up intake or other tasks. Attempts for one task are
// strictly sequential.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/types"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("delivery queue closed")

// Config configures the delivery queue.
type Config struct {
	// URL is the relay endpoint (required).
	URL string
	// Token is joined to URL per Endpoint.
	Token string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Policy controls retries. Zero fields take defaults.
	Policy Policy
	// MaxInFlight bounds concurrent HTTP attempts. 0 means unbounded.
	// Intake is never bounded.
	MaxInFlight int
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *log.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithSink sets where terminal outcomes are reported.
func WithSink(s OutcomeSink) Option { return func(q *Queue) { q.sink = s } }

// WithHTTPClient overrides the HTTP client. Its Timeout takes precedence
// over Config.Timeout.
func WithHTTPClient(c *http.Client) Option { return func(q *Queue) { q.httpClient = c } }

// WithSleep overrides how backoff delays are waited out.
func WithSleep(s SleepFunc) Option { return func(q *Queue) { q.sleep = s } }

// WithRand overrides the jitter source. r must return values in [0, 1).
func WithRand(r func() float64) Option { return func(q *Queue) { q.rand = r } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// Queue accepts eligible events and delivers them with retry.
type Queue struct {
	policy     Policy
	poster     *poster
	httpClient *http.Client
	logger     *log.Logger
	sink       OutcomeSink
	sleep      SleepFunc
	rand       func() float64
	now        func() time.Time
	slots      chan struct{}

	// ctx is canceled by Shutdown; it bounds backoff waits only.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	abandoned []types.DeliveryTask
	wg        sync.WaitGroup
}

// New creates a delivery queue. Returns an error if the URL is empty or
// the policy is invalid.
func New(cfg Config, opts ...Option) (*Queue, error) {
	if cfg.URL == "" {
		return nil, errors.New("delivery queue requires a URL")
	}
	endpoint, err := Endpoint(cfg.URL, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("delivery queue: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Policy.Base == 0 {
		cfg.Policy.Base = DefaultRetryBase
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy.MaxAttempts = DefaultMaxAttempts
	}
	if err := cfg.Policy.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxInFlight < 0 {
		return nil, fmt.Errorf("max in flight must be >= 0, got %d", cfg.MaxInFlight)
	}

	q := &Queue{
		policy: cfg.Policy,
		sleep:  sleepCtx,
		rand:   rand.Float64,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.httpClient == nil {
		q.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	q.poster = &poster{url: endpoint, headers: cfg.Headers, client: q.httpClient}
	if cfg.MaxInFlight > 0 {
		q.slots = make(chan struct{}, cfg.MaxInFlight)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q, nil
}

// Enqueue creates a task for an eligible event and starts delivering it.
// It never blocks on I/O.
func (q *Queue) Enqueue(event types.NormalizedEvent) (types.DeliveryTask, error) {
	if !event.Eligible() {
		return types.DeliveryTask{}, errors.New("event has no employee number")
	}
	task := types.DeliveryTask{
		ID:         uuid.New().String(),
		Event:      event,
		EnqueuedAt: q.now(),
	}
	if err := q.EnqueueTask(task); err != nil {
		return types.DeliveryTask{}, err
	}
	return task, nil
}

// EnqueueTask resumes a task, keeping its attempt count and schedule.
// Used to restore spooled tasks.
func (q *Queue) EnqueueTask(task types.DeliveryTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	q.wg.Add(1)
	go q.run(task)
	return nil
}

// Wait blocks until every enqueued task has reported an outcome.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Shutdown stops intake, abandons pending backoff waits, lets in-flight
// requests finish, and returns the abandoned tasks.
func (q *Queue) Shutdown() []types.DeliveryTask {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.httpClient.CloseIdleConnections()

	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.abandoned
	q.abandoned = nil
	return out
}

func (q *Queue) run(task types.DeliveryTask) {
	defer q.wg.Done()

	body, err := json.Marshal(task.Event.Payload())
	if err != nil {
		// Unreachable for string fields; report rather than drop silently.
		q.finish(task, OutcomeExhausted, fmt.Errorf("marshal payload: %w", err), nil)
		return
	}

	fields := map[string]any{
		"task_id":     task.ID,
		"employee_no": task.Event.EmployeeID,
		"ip_address":  task.Event.IPAddress,
		"date_time":   task.Event.OccurredAt,
	}

	var delays []time.Duration
	for {
		if wait := task.NextEligibleAt.Sub(q.now()); wait > 0 {
			if err := q.sleep(q.ctx, wait); err != nil {
				q.finish(task, OutcomeAbandoned, err, delays)
				return
			}
		}
		if err := q.acquire(); err != nil {
			q.finish(task, OutcomeAbandoned, err, delays)
			return
		}

		task.Attempt++
		// In-flight requests are not aborted by Shutdown.
		err := q.poster.post(context.WithoutCancel(q.ctx), body)
		q.release()

		switch q.policy.Decide(err) {
		case ActionSucceed:
			q.finish(task, OutcomeDelivered, nil, delays)
			return
		case ActionReject:
			q.finish(task, OutcomeRejected, err, delays)
			return
		}

		if q.policy.Exhausted(task.Attempt) {
			q.finish(task, OutcomeExhausted, err, delays)
			return
		}

		delay := q.policy.Delay(task.Attempt, q.rand)
		delays = append(delays, delay)
		task.NextEligibleAt = q.now().Add(delay)

		f := withAttempt(fields, task.Attempt)
		f["error"] = err.Error()
		f["status"] = StatusOf(err)
		f["retry_in"] = delay.String()
		q.logger.Warn("delivery attempt failed, retrying", f)
	}
}

func (q *Queue) acquire() error {
	if q.slots == nil {
		return q.ctx.Err()
	}
	select {
	case q.slots <- struct{}{}:
		return nil
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}

func (q *Queue) release() {
	if q.slots != nil {
		<-q.slots
	}
}

func (q *Queue) finish(task types.DeliveryTask, kind OutcomeKind, err error, delays []time.Duration) {
	o := Outcome{
		Task:       task,
		Kind:       kind,
		Status:     StatusOf(err),
		Err:        err,
		Delays:     delays,
		FinishedAt: q.now(),
	}

	fields := withAttempt(map[string]any{
		"task_id":     task.ID,
		"employee_no": task.Event.EmployeeID,
		"outcome":     string(kind),
	}, task.Attempt)
	if o.Status != 0 {
		fields["status"] = o.Status
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	switch kind {
	case OutcomeDelivered:
		q.logger.Info("event delivered", fields)
	case OutcomeAbandoned:
		q.mu.Lock()
		q.abandoned = append(q.abandoned, task)
		q.mu.Unlock()
		q.logger.Warn("delivery abandoned", fields)
	default:
		q.logger.Error("delivery failed", fields)
	}

	if q.sink != nil {
		q.sink.Report(context.WithoutCancel(q.ctx), o)
	}
}

func withAttempt(base map[string]any, attempt int) map[string]any {
	out := maps.Clone(base)
	out["attempt"] = attempt
	return out
}
