package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/gatehouse/adapter"
	"github.com/pithecene-io/gatehouse/delivery"
	"github.com/pithecene-io/gatehouse/lode"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/metrics"
	"github.com/pithecene-io/gatehouse/types"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []*adapter.OutcomeEvent
	err    error
	closed bool
}

func (n *fakeNotifier) Publish(_ context.Context, e *adapter.OutcomeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *fakeNotifier) Close() error {
	n.closed = true
	return nil
}

type failingJournal struct{}

func (failingJournal) Write(context.Context, ...lode.OutcomeRecord) error {
	return errors.New("disk full")
}

func testOutcome(kind delivery.OutcomeKind, err error) delivery.Outcome {
	return delivery.Outcome{
		Task: types.DeliveryTask{
			ID: "task-1",
			Event: types.NormalizedEvent{
				EventType:  "AccessControllerEvent",
				IPAddress:  "10.0.0.5",
				OccurredAt: "2024-03-09T14:05:07+01:00",
				EmployeeID: "E42",
			},
			Attempt:    3,
			EnqueuedAt: time.Date(2024, 3, 9, 13, 5, 7, 0, time.UTC),
		},
		Kind:       kind,
		Status:     delivery.StatusOf(err),
		Err:        err,
		FinishedAt: time.Date(2024, 3, 9, 13, 5, 20, 0, time.UTC),
	}
}

func memoryFactory() lodelib.StoreFactory {
	store := lodelib.NewMemory()
	return func() (lodelib.Store, error) { return store, nil }
}

func TestRecorder_JournalsAndNotifies(t *testing.T) {
	factory := memoryFactory()
	journal, err := lode.NewJournal(factory)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	n := &fakeNotifier{}
	m := metrics.NewCollector("10.0.0.5", "memory", "sess")
	r := NewRecorder("10.0.0.5", journal, []adapter.Notifier{n}, m, log.Nop())

	r.Report(t.Context(), testOutcome(delivery.OutcomeExhausted, &delivery.StatusError{Code: 503}))

	recs, err := lode.QueryOutcomes(t.Context(), factory, lode.OutcomeFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Outcome != "exhausted" || rec.EmployeeNo != "E42" || rec.Attempts != 3 || rec.Status != 503 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Day != "2024-03-09" {
		t.Errorf("Day = %q", rec.Day)
	}

	if len(n.events) != 1 {
		t.Fatalf("got %d notifications, want 1", len(n.events))
	}
	e := n.events[0]
	if e.Device != "10.0.0.5" || e.Outcome != "exhausted" || e.Timestamp != "2024-03-09T13:05:20Z" {
		t.Errorf("event = %+v", e)
	}
	if e.Error == "" {
		t.Error("event should carry the last error")
	}

	snap := m.Snapshot()
	if snap.OutcomesByKind["exhausted"] != 1 || snap.JournalWriteSuccess != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestRecorder_FailuresDoNotPropagate(t *testing.T) {
	n1 := &fakeNotifier{err: errors.New("redis down")}
	n2 := &fakeNotifier{}
	m := metrics.NewCollector("10.0.0.5", "memory", "sess")
	r := NewRecorder("10.0.0.5", failingJournal{}, []adapter.Notifier{n1, n2}, m, log.Nop())

	r.Report(t.Context(), testOutcome(delivery.OutcomeDelivered, nil))

	if len(n2.events) != 1 {
		t.Error("second notifier should still receive the event")
	}
	if got := m.Snapshot().JournalWriteFailure; got != 1 {
		t.Errorf("JournalWriteFailure = %d, want 1", got)
	}

	r.Close()
	if !n1.closed || !n2.closed {
		t.Error("Close should close every notifier")
	}
}

func TestOutcomeRecord_Fields(t *testing.T) {
	rec := OutcomeRecord(testOutcome(delivery.OutcomeDelivered, nil))

	if rec.Error != "" || rec.Status != 0 {
		t.Errorf("delivered record carries failure fields: %+v", rec)
	}
	if rec.EnqueuedAt != "2024-03-09T13:05:07.000000000Z" {
		t.Errorf("EnqueuedAt = %q", rec.EnqueuedAt)
	}
	if rec.FinishedAt != "2024-03-09T13:05:20.000000000Z" {
		t.Errorf("FinishedAt = %q", rec.FinishedAt)
	}
	if rec.DateTime != "2024-03-09T14:05:07+01:00" {
		t.Errorf("DateTime = %q, want device value verbatim", rec.DateTime)
	}
}
