// Package metrics collects per-session counters for the ingester.
//
// The Collector is a leaf package with no internal dependencies. Outcome
// and classification names are plain strings so that callers in delivery
// and extract can record without import cycles.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session
	Connects        int64
	ConnectFailures int64
	Reconnects      int64
	IdleTimeouts    int64

	// Stream
	ChunksReceived int64
	BytesReceived  int64

	// Demux
	PartsEmitted     int64
	FrameErrors      int64
	FatalFrameErrors int64

	// Extract, keyed by classification (event, artifact, filtered, ...)
	PartsByKind      map[string]int64
	EventsIneligible int64

	// Delivery
	TasksEnqueued    int64
	OutcomesByKind   map[string]int64
	HeartbeatsOK     int64
	HeartbeatsFailed int64

	// Storage
	ImagesSaved         int64
	ImageSaveFailures   int64
	JournalWriteSuccess int64
	JournalWriteFailure int64

	// Dimensions (informational, set at construction)
	Device         string
	StorageBackend string
	SessionID      string
}

// Collector accumulates counters for one process run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connects        int64
	connectFailures int64
	reconnects      int64
	idleTimeouts    int64

	chunksReceived int64
	bytesReceived  int64

	partsEmitted     int64
	frameErrors      int64
	fatalFrameErrors int64

	partsByKind      map[string]int64
	eventsIneligible int64

	tasksEnqueued    int64
	outcomesByKind   map[string]int64
	heartbeatsOK     int64
	heartbeatsFailed int64

	imagesSaved         int64
	imageSaveFailures   int64
	journalWriteSuccess int64
	journalWriteFailure int64

	device         string
	storageBackend string
	sessionID      string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(device, storageBackend, sessionID string) *Collector {
	return &Collector{
		partsByKind:    make(map[string]int64),
		outcomesByKind: make(map[string]int64),
		device:         device,
		storageBackend: storageBackend,
		sessionID:      sessionID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Session ---

// IncConnect records a connection that reached Streaming.
func (c *Collector) IncConnect() {
	if c == nil {
		return
	}
	c.add(&c.connects, 1)
}

// IncConnectFailure records a failed connection attempt.
func (c *Collector) IncConnectFailure() {
	if c == nil {
		return
	}
	c.add(&c.connectFailures, 1)
}

// IncReconnect records an entry into Backoff.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.add(&c.reconnects, 1)
}

// IncIdleTimeout records a liveness timeout.
func (c *Collector) IncIdleTimeout() {
	if c == nil {
		return
	}
	c.add(&c.idleTimeouts, 1)
}

// --- Stream ---

// AddChunk records one received chunk of n bytes.
func (c *Collector) AddChunk(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksReceived++
	c.bytesReceived += int64(n)
	c.mu.Unlock()
}

// --- Demux ---

// IncPartEmitted records one complete part.
func (c *Collector) IncPartEmitted() {
	if c == nil {
		return
	}
	c.add(&c.partsEmitted, 1)
}

// IncFrameError records a framing fault. Fatal faults end the connection.
func (c *Collector) IncFrameError(fatal bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameErrors++
	if fatal {
		c.fatalFrameErrors++
	}
	c.mu.Unlock()
}

// --- Extract ---

// IncPartKind records a part classification.
func (c *Collector) IncPartKind(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.partsByKind[kind]++
	c.mu.Unlock()
}

// IncEventIneligible records an event observed without an employee number.
func (c *Collector) IncEventIneligible() {
	if c == nil {
		return
	}
	c.add(&c.eventsIneligible, 1)
}

// --- Delivery ---

// IncTaskEnqueued records a task handed to the delivery queue.
func (c *Collector) IncTaskEnqueued() {
	if c == nil {
		return
	}
	c.add(&c.tasksEnqueued, 1)
}

// IncOutcome records a delivery outcome (delivered, rejected, ...).
func (c *Collector) IncOutcome(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.outcomesByKind[kind]++
	c.mu.Unlock()
}

// IncHeartbeat records a heartbeat result.
func (c *Collector) IncHeartbeat(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.heartbeatsOK, 1)
		return
	}
	c.add(&c.heartbeatsFailed, 1)
}

// --- Storage ---

// IncImageSaved records an image write result.
func (c *Collector) IncImageSaved(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.imagesSaved, 1)
		return
	}
	c.add(&c.imageSaveFailures, 1)
}

// IncJournalWrite records a journal write result (per call).
func (c *Collector) IncJournalWrite(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.journalWriteSuccess, 1)
		return
	}
	c.add(&c.journalWriteFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Connects:        c.connects,
		ConnectFailures: c.connectFailures,
		Reconnects:      c.reconnects,
		IdleTimeouts:    c.idleTimeouts,

		ChunksReceived: c.chunksReceived,
		BytesReceived:  c.bytesReceived,

		PartsEmitted:     c.partsEmitted,
		FrameErrors:      c.frameErrors,
		FatalFrameErrors: c.fatalFrameErrors,

		PartsByKind:      maps.Clone(c.partsByKind),
		EventsIneligible: c.eventsIneligible,

		TasksEnqueued:    c.tasksEnqueued,
		OutcomesByKind:   maps.Clone(c.outcomesByKind),
		HeartbeatsOK:     c.heartbeatsOK,
		HeartbeatsFailed: c.heartbeatsFailed,

		ImagesSaved:         c.imagesSaved,
		ImageSaveFailures:   c.imageSaveFailures,
		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,

		Device:         c.device,
		StorageBackend: c.storageBackend,
		SessionID:      c.sessionID,
	}
}

// Fields flattens the snapshot into log fields.
func (s Snapshot) Fields() map[string]any {
	f := map[string]any{
		"connects":          s.Connects,
		"connect_failures":  s.ConnectFailures,
		"reconnects":        s.Reconnects,
		"idle_timeouts":     s.IdleTimeouts,
		"chunks":            s.ChunksReceived,
		"bytes":             s.BytesReceived,
		"parts":             s.PartsEmitted,
		"frame_errors":      s.FrameErrors,
		"events_ineligible": s.EventsIneligible,
		"tasks_enqueued":    s.TasksEnqueued,
		"heartbeats_ok":     s.HeartbeatsOK,
		"heartbeats_failed": s.HeartbeatsFailed,
		"images_saved":      s.ImagesSaved,
		"image_failures":    s.ImageSaveFailures,
		"journal_writes":    s.JournalWriteSuccess,
		"journal_failures":  s.JournalWriteFailure,
	}
	for k, v := range s.PartsByKind {
		f["parts_"+k] = v
	}
	for k, v := range s.OutcomesByKind {
		f["outcome_"+k] = v
	}
	return f
}
