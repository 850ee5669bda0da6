package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pithecene-io/gatehouse/types"
)

// SessionReport is the structured JSON report written by --report.
type SessionReport struct {
	Device     string          `json:"device"`
	SessionID  string          `json:"session_id"`
	Status     types.RunStatus `json:"status"`
	Message    string          `json:"message,omitempty"`
	ExitCode   int             `json:"exit_code"`
	StartedAt  string          `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`

	Stream   *ReportStream   `json:"stream"`
	Delivery *ReportDelivery `json:"delivery"`
	Storage  *ReportStorage  `json:"storage"`
}

// ReportStream holds connection and parsing counters.
type ReportStream struct {
	Connects         int64            `json:"connects"`
	ConnectFailures  int64            `json:"connect_failures"`
	Reconnects       int64            `json:"reconnects"`
	IdleTimeouts     int64            `json:"idle_timeouts"`
	Chunks           int64            `json:"chunks"`
	Bytes            int64            `json:"bytes"`
	Parts            int64            `json:"parts"`
	FrameErrors      int64            `json:"frame_errors"`
	FatalFrameErrors int64            `json:"fatal_frame_errors"`
	PartsByKind      map[string]int64 `json:"parts_by_kind,omitempty"`
}

// ReportDelivery holds relay counters.
type ReportDelivery struct {
	Enqueued         int64            `json:"enqueued"`
	Ineligible       int64            `json:"ineligible"`
	Resumed          int              `json:"resumed"`
	Abandoned        int              `json:"abandoned"`
	Spooled          bool             `json:"spooled"`
	Outcomes         map[string]int64 `json:"outcomes,omitempty"`
	HeartbeatsOK     int64            `json:"heartbeats_ok"`
	HeartbeatsFailed int64            `json:"heartbeats_failed"`
}

// ReportStorage holds image and journal counters.
type ReportStorage struct {
	Backend             string `json:"backend,omitempty"`
	ImagesSaved         int64  `json:"images_saved"`
	ImageSaveFailures   int64  `json:"image_save_failures"`
	JournalWriteSuccess int64  `json:"journal_write_success"`
	JournalWriteFailure int64  `json:"journal_write_failure"`
}

// BuildSessionReport composes a report from a finished run.
func BuildSessionReport(result *IngestResult) *SessionReport {
	status, exitCode := DetermineOutcome(result)
	snap := result.Metrics

	report := &SessionReport{
		Device:     snap.Device,
		SessionID:  snap.SessionID,
		Status:     status,
		ExitCode:   exitCode,
		StartedAt:  result.StartedAt.UTC().Format(time.RFC3339),
		DurationMs: result.Duration.Milliseconds(),
		Stream: &ReportStream{
			Connects:         snap.Connects,
			ConnectFailures:  snap.ConnectFailures,
			Reconnects:       snap.Reconnects,
			IdleTimeouts:     snap.IdleTimeouts,
			Chunks:           snap.ChunksReceived,
			Bytes:            snap.BytesReceived,
			Parts:            snap.PartsEmitted,
			FrameErrors:      snap.FrameErrors,
			FatalFrameErrors: snap.FatalFrameErrors,
			PartsByKind:      snap.PartsByKind,
		},
		Delivery: &ReportDelivery{
			Enqueued:         snap.TasksEnqueued,
			Ineligible:       snap.EventsIneligible,
			Resumed:          result.Resumed,
			Abandoned:        result.Abandoned,
			Spooled:          result.Spooled,
			Outcomes:         snap.OutcomesByKind,
			HeartbeatsOK:     snap.HeartbeatsOK,
			HeartbeatsFailed: snap.HeartbeatsFailed,
		},
		Storage: &ReportStorage{
			Backend:             snap.StorageBackend,
			ImagesSaved:         snap.ImagesSaved,
			ImageSaveFailures:   snap.ImageSaveFailures,
			JournalWriteSuccess: snap.JournalWriteSuccess,
			JournalWriteFailure: snap.JournalWriteFailure,
		},
	}
	if result.Err != nil {
		report.Message = result.Err.Error()
	}
	return report
}

// WriteSessionReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteSessionReport(report *SessionReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeSessionReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	if err := writeSessionReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

func writeSessionReportTo(report *SessionReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
