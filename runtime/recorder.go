package runtime

import (
	"context"
	"time"

	"github.com/pithecene-io/gatehouse/adapter"
	"github.com/pithecene-io/gatehouse/delivery"
	"github.com/pithecene-io/gatehouse/lode"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/metrics"
)

// notifyTimeout bounds all publish retries for one outcome.
const notifyTimeout = 30 * time.Second

// JournalWriter persists outcome records. Satisfied by *lode.Journal.
type JournalWriter interface {
	Write(ctx context.Context, records ...lode.OutcomeRecord) error
}

// Recorder is the delivery outcome sink: it counts, journals and
// publishes every outcome. Journal and notifier failures are logged only.
type Recorder struct {
	device    string
	journal   JournalWriter
	notifiers []adapter.Notifier
	metrics   *metrics.Collector
	logger    *log.Logger
}

// NewRecorder creates a recorder. journal may be nil.
func NewRecorder(device string, journal JournalWriter, notifiers []adapter.Notifier, m *metrics.Collector, logger *log.Logger) *Recorder {
	return &Recorder{
		device:    device,
		journal:   journal,
		notifiers: notifiers,
		metrics:   m,
		logger:    logger,
	}
}

// Report implements delivery.OutcomeSink.
func (r *Recorder) Report(ctx context.Context, o delivery.Outcome) {
	r.metrics.IncOutcome(string(o.Kind))

	if r.journal != nil {
		err := r.journal.Write(ctx, OutcomeRecord(o))
		r.metrics.IncJournalWrite(err == nil)
		if err != nil {
			r.logger.Warn("journal write failed", map[string]any{
				"task_id": o.Task.ID,
				"error":   err.Error(),
			})
		}
	}

	if len(r.notifiers) == 0 {
		return
	}
	event := OutcomeEvent(r.device, o)
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	for _, n := range r.notifiers {
		if err := n.Publish(nctx, event); err != nil {
			r.logger.Warn("outcome notification failed", map[string]any{
				"task_id": o.Task.ID,
				"error":   err.Error(),
			})
		}
	}
}

// Close closes every notifier.
func (r *Recorder) Close() {
	for _, n := range r.notifiers {
		if err := n.Close(); err != nil {
			r.logger.Warn("notifier close failed", map[string]any{"error": err.Error()})
		}
	}
}

// OutcomeRecord converts an outcome to its journal form.
func OutcomeRecord(o delivery.Outcome) lode.OutcomeRecord {
	rec := lode.OutcomeRecord{
		Outcome:    string(o.Kind),
		TaskID:     o.Task.ID,
		EmployeeNo: o.Task.Event.EmployeeID,
		IPAddress:  o.Task.Event.IPAddress,
		DateTime:   o.Task.Event.OccurredAt,
		Attempts:   o.Task.Attempt,
		Status:     o.Status,
		FinishedAt: lode.FormatTime(o.FinishedAt),
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if !o.Task.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = lode.FormatTime(o.Task.EnqueuedAt)
	}
	return rec
}

// OutcomeEvent converts an outcome to its notification form.
func OutcomeEvent(device string, o delivery.Outcome) *adapter.OutcomeEvent {
	e := &adapter.OutcomeEvent{
		EventType:  adapter.EventTypeDeliveryOutcome,
		TaskID:     o.Task.ID,
		Device:     device,
		EmployeeNo: o.Task.Event.EmployeeID,
		IPAddress:  o.Task.Event.IPAddress,
		DateTime:   o.Task.Event.OccurredAt,
		Outcome:    string(o.Kind),
		Status:     o.Status,
		Attempts:   o.Task.Attempt,
		Timestamp:  o.FinishedAt.UTC().Format(time.RFC3339),
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

var _ delivery.OutcomeSink = (*Recorder)(nil)
