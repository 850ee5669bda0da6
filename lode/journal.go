package lode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
)

// JournalDataset is the Lode dataset ID for delivery outcomes.
const JournalDataset = "outcomes"

// RecordKindOutcome tags journal records.
const RecordKindOutcome = "delivery_outcome"

// journalLayout partitions records by day, then outcome.
var journalLayout = []string{"day", "outcome"}

// OutcomeRecord is one terminal (or abandoned) delivery, as journaled.
type OutcomeRecord struct {
	RecordKind string `json:"record_kind"`
	Day        string `json:"day"`
	Outcome    string `json:"outcome"`
	TaskID     string `json:"task_id"`
	EmployeeNo string `json:"employee_no"`
	IPAddress  string `json:"ip_address,omitempty"`
	DateTime   string `json:"date_time,omitempty"`
	Attempts   int    `json:"attempts"`
	Status     int    `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	EnqueuedAt string `json:"enqueued_at,omitempty"`
	FinishedAt string `json:"finished_at"`
}

// timeLayout has fixed-width fractions so formatted times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DeriveDay formats the partition day of t (UTC).
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FormatTime formats t (UTC) for record timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (r OutcomeRecord) toMap() (map[string]any, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func recordFromMap(m map[string]any) (OutcomeRecord, bool) {
	if m["record_kind"] != RecordKindOutcome {
		return OutcomeRecord{}, false
	}
	b, err := json.Marshal(m)
	if err != nil {
		return OutcomeRecord{}, false
	}
	var r OutcomeRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return OutcomeRecord{}, false
	}
	return r, true
}

func newJournalDataset(factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(JournalDataset),
		factory,
		lode.WithHiveLayout(journalLayout...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Journal appends outcome records to a Hive-partitioned JSONL dataset.
// Safe for concurrent use; writes are serialized.
type Journal struct {
	mu      sync.Mutex
	dataset lode.Dataset
}

// NewJournal opens the outcome journal on factory.
func NewJournal(factory lode.StoreFactory) (*Journal, error) {
	ds, err := newJournalDataset(factory)
	if err != nil {
		return nil, WrapInitError(err, JournalDataset)
	}
	return &Journal{dataset: ds}, nil
}

// Write appends records. Missing RecordKind and Day are filled in.
func (j *Journal) Write(ctx context.Context, records ...OutcomeRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := make([]any, 0, len(records))
	for _, r := range records {
		if r.RecordKind == "" {
			r.RecordKind = RecordKindOutcome
		}
		if r.Day == "" {
			finished, err := time.Parse(time.RFC3339Nano, r.FinishedAt)
			if err != nil {
				return fmt.Errorf("journal record %s: finished_at: %w", r.TaskID, err)
			}
			r.Day = DeriveDay(finished)
		}
		m, err := r.toMap()
		if err != nil {
			return fmt.Errorf("journal record %s: %w", r.TaskID, err)
		}
		batch = append(batch, m)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.dataset.Write(ctx, batch, lode.Metadata{}); err != nil {
		return WrapWriteError(err, JournalDataset)
	}
	return nil
}

// OutcomeFilter narrows QueryOutcomes. Empty fields match everything.
type OutcomeFilter struct {
	Day        string
	Outcome    string
	EmployeeNo string
	// Limit keeps the most recent N records. 0 means no limit.
	Limit int
}

// ErrNoOutcomes is returned when the journal holds no matching records.
var ErrNoOutcomes = errors.New("no outcome records found")

// QueryOutcomes reads journaled outcomes matching f, oldest first.
func QueryOutcomes(ctx context.Context, factory lode.StoreFactory, f OutcomeFilter) ([]OutcomeRecord, error) {
	ds, err := newJournalDataset(factory)
	if err != nil {
		return nil, WrapInitError(err, JournalDataset)
	}
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, JournalDataset+"/snapshots")
	}

	seen := make(map[string]struct{})
	var out []OutcomeRecord
	for _, snap := range snapshots {
		// Manifest paths are a coarse pre-filter; record fields decide.
		if !snapshotMatches(snap, "day", f.Day) || !snapshotMatches(snap, "outcome", f.Outcome) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", JournalDataset, snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r, ok := recordFromMap(m)
			if !ok || !f.matches(r) {
				continue
			}
			key := r.TaskID + "|" + r.Outcome + "|" + r.FinishedAt
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoOutcomes
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].FinishedAt < out[b].FinishedAt })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (f OutcomeFilter) matches(r OutcomeRecord) bool {
	return (f.Day == "" || r.Day == f.Day) &&
		(f.Outcome == "" || r.Outcome == f.Outcome) &&
		(f.EmployeeNo == "" || r.EmployeeNo == f.EmployeeNo)
}

func snapshotMatches(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, file := range snap.Manifest.Files {
		if matchesPartitionValue(file.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// that outcome=rejected never matches outcome=rejected_x.
func matchesPartitionValue(p, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(p, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
