package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/gatehouse/demux"
	"github.com/pithecene-io/gatehouse/extract"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/stream"
)

// ReplayConfig configures an offline replay of a captured stream.
type ReplayConfig struct {
	// Boundary is the part delimiter (default demux.DefaultBoundary).
	Boundary string
	// ChunkSize is the read size used to feed the demuxer (default 4096).
	ChunkSize     int
	MaxBufferSize int
	// Now stamps artifacts. Defaults to a fixed epoch so output is stable.
	Now func() time.Time
	// Logger receives extractor logs (default discard).
	Logger *log.Logger
}

// ReplayEntry is one classified part, in stream order.
type ReplayEntry struct {
	Index       int    `json:"index" yaml:"index"`
	Kind        string `json:"kind" yaml:"kind"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	EventType   string `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	EmployeeNo  string `json:"employee_no,omitempty" yaml:"employee_no,omitempty"`
	IPAddress   string `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	DateTime    string `json:"date_time,omitempty" yaml:"date_time,omitempty"`
	Eligible    bool   `json:"eligible" yaml:"eligible"`
	Filename    string `json:"filename,omitempty" yaml:"filename,omitempty"`
	Size        int    `json:"size" yaml:"size"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ReplayResult is the full outcome of a replay.
type ReplayResult struct {
	Entries     []ReplayEntry    `json:"entries" yaml:"entries"`
	Counts      map[string]int64 `json:"counts" yaml:"counts"`
	Eligible    int              `json:"eligible" yaml:"eligible"`
	FrameErrors int              `json:"frame_errors" yaml:"frame_errors"`
	// Trailing is the number of buffered bytes left without a complete part.
	Trailing int `json:"trailing_bytes" yaml:"trailing_bytes"`
}

// replayEpoch stamps artifacts during replay unless Now is set.
var replayEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Replay feeds a captured stream through the demuxer and extractor
// without touching the network. The same input yields the same result
// for every chunk size as long as no part outgrows the demuxer's buffer
// ceiling; once FrameErrorTooLarge fires, where the buffer crosses the
// ceiling depends on chunk size.
func Replay(ctx context.Context, r io.Reader, cfg ReplayConfig) (*ReplayResult, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = stream.DefaultChunkSize
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return replayEpoch }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	d := demux.New(demux.Config{Boundary: cfg.Boundary, MaxBufferSize: cfg.MaxBufferSize})
	x := extract.New(extract.WithLogger(logger), extract.WithClock(cfg.Now))
	res := &ReplayResult{Counts: map[string]int64{}}

	buf := make([]byte, cfg.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			d.Feed(buf[:n])
			res.drain(d, x)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read capture: %w", err)
		}
	}

	res.Trailing = d.Buffered()
	return res, nil
}

func (res *ReplayResult) drain(d *demux.Demuxer, x *extract.Extractor) {
	for {
		part, err := d.Next()
		if err != nil {
			res.FrameErrors++
			res.add(ReplayEntry{Kind: "frame_error", Error: err.Error()})
			if demux.IsFatalFrameError(err) {
				// Mirrors a live reconnect: start over with a fresh buffer.
				d.Reset()
				return
			}
			continue
		}
		if part == nil {
			return
		}
		res.add(entryFor(part, x.Classify(part)))
	}
}

func (res *ReplayResult) add(e ReplayEntry) {
	e.Index = len(res.Entries)
	res.Entries = append(res.Entries, e)
	res.Counts[e.Kind]++
	if e.Eligible {
		res.Eligible++
	}
}

func entryFor(part *demux.Part, r extract.Result) ReplayEntry {
	e := ReplayEntry{
		Kind:        r.Kind.String(),
		ContentType: part.ContentType,
		Size:        len(part.Body),
	}
	if r.Event != nil {
		e.EventType = r.Event.EventType
		e.EmployeeNo = r.Event.EmployeeID
		e.IPAddress = r.Event.IPAddress
		e.DateTime = r.Event.OccurredAt
		e.Eligible = r.Event.Eligible()
	}
	if r.Artifact != nil {
		e.Filename = r.Artifact.Filename()
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}
