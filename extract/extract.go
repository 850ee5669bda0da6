// Package extract turns demultiplexed MIME parts into normalized access
// events or binary artifacts.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/gatehouse/demux"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/types"
)

// Kind classifies the outcome of Classify.
type Kind int

const (
	// KindEvent means Result.Event is set. It may or may not be eligible.
	KindEvent Kind = iota
	// KindArtifact means Result.Artifact is set.
	KindArtifact
	// KindFiltered means the event was recognised and discarded (videoloss).
	KindFiltered
	// KindNoJSON means a text part carried no JSON object.
	KindNoJSON
	// KindUnhandled means the content type is not processed.
	KindUnhandled
	// KindFault means the body could not be decoded; Result.Err is set.
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindArtifact:
		return "artifact"
	case KindFiltered:
		return "filtered"
	case KindNoJSON:
		return "no_json"
	case KindUnhandled:
		return "unhandled"
	case KindFault:
		return "fault"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result holds at most one of Event or Artifact.
type Result struct {
	Kind     Kind
	Event    *types.NormalizedEvent
	Artifact *types.BinaryArtifact
	Err      error
}

var errNotObject = errors.New("body is not a JSON object")

// DecodeError is a decode fault isolated to a single part.
type DecodeError struct {
	ContentType string
	Err         error
	// Snippet is a bounded prefix of the offending text for the log.
	Snippet string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.ContentType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a per-part decode fault.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

const snippetLimit = 256

// Extractor classifies parts. Safe for concurrent use.
type Extractor struct {
	logger *log.Logger
	now    func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger for faults and observations.
func WithLogger(l *log.Logger) Option {
	return func(x *Extractor) { x.logger = l }
}

// WithClock sets the clock used to timestamp artifacts.
func WithClock(now func() time.Time) Option {
	return func(x *Extractor) { x.now = now }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	x := &Extractor{now: time.Now}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Classify maps one part to an event, an artifact, or nothing.
// Faults are logged with the part's content type and returned in Result.Err;
// they never propagate further.
func (x *Extractor) Classify(part *demux.Part) Result {
	ct := part.ContentType
	x.logger.Debug("processing part", map[string]any{
		"content_type": ct,
		"size":         len(part.Body),
	})

	switch {
	case ct == "application/json":
		return x.fromJSON(ct, part.Body, part.Charset())

	case ct == "text/plain":
		start := bytes.IndexByte(part.Body, '{')
		if start < 0 {
			x.logger.Warn("part without JSON content", map[string]any{
				"content_type": ct,
				"size":         len(part.Body),
			})
			return Result{Kind: KindNoJSON}
		}
		return x.fromJSON(ct, part.Body[start:], part.Charset())

	case isBinary(ct):
		artifact := &types.BinaryArtifact{
			MediaType:  ct,
			Bytes:      part.Body,
			CapturedAt: x.now(),
		}
		x.logger.Info("received binary artifact", map[string]any{
			"content_type": ct,
			"size":         len(part.Body),
			"filename":     artifact.Filename(),
		})
		return Result{Kind: KindArtifact, Artifact: artifact}

	default:
		x.logger.Info("unhandled content type", map[string]any{
			"content_type": ct,
			"size":         len(part.Body),
		})
		return Result{Kind: KindUnhandled}
	}
}

func (x *Extractor) fromJSON(contentType string, body []byte, charset string) Result {
	text := DecodeText(body, charset)

	trimmed := strings.TrimSpace(text)
	var raw deviceEvent
	err := errNotObject
	if strings.HasPrefix(trimmed, "{") {
		err = json.Unmarshal([]byte(trimmed), &raw)
	}
	if err != nil {
		derr := &DecodeError{ContentType: contentType, Err: err, Snippet: snippet(text)}
		x.logger.Error("malformed JSON event", map[string]any{
			"content_type": contentType,
			"error":        err.Error(),
			"snippet":      derr.Snippet,
		})
		return Result{Kind: KindFault, Err: derr}
	}

	if string(raw.EventType) == types.EventTypeVideoLoss {
		x.logger.Debug("discarding videoloss event", map[string]any{
			"ip_address": string(raw.IPAddress),
		})
		return Result{Kind: KindFiltered}
	}

	event := raw.normalize()
	fields := map[string]any{
		"content_type": contentType,
		"event_type":   event.EventType,
		"event_state":  event.EventState,
		"ip_address":   event.IPAddress,
		"date_time":    event.OccurredAt,
	}
	if event.Eligible() {
		fields["employee_no"] = event.EmployeeID
		x.logger.Info("access event", fields)
	} else {
		x.logger.Info("event without employee number, not relayed", fields)
	}
	return Result{Kind: KindEvent, Event: event}
}

// isBinary reports whether a media type is persisted as an artifact.
func isBinary(ct string) bool {
	return strings.HasPrefix(ct, "image/") || ct == "application/octet-stream"
}

func snippet(s string) string {
	if len(s) <= snippetLimit {
		return s
	}
	return s[:snippetLimit] + "..."
}

// deviceEvent is the subset of the ISAPI event JSON the relay reads.
type deviceEvent struct {
	IPAddress             flexString             `json:"ipAddress"`
	DateTime              flexString             `json:"dateTime"`
	EventType             flexString             `json:"eventType"`
	EventState            flexString             `json:"eventState"`
	EventDescription      flexString             `json:"eventDescription"`
	AccessControllerEvent *accessControllerEvent `json:"AccessControllerEvent"`
}

type accessControllerEvent struct {
	EmployeeNoString flexString `json:"employeeNoString"`
	CardNo           flexString `json:"cardNo"`
	UserType         flexString `json:"userType"`
	MajorEventType   flexString `json:"majorEventType"`
	SubEventType     flexString `json:"subEventType"`
}

func (d *deviceEvent) normalize() *types.NormalizedEvent {
	e := &types.NormalizedEvent{
		EventType:   string(d.EventType),
		EventState:  string(d.EventState),
		Description: string(d.EventDescription),
		IPAddress:   string(d.IPAddress),
		OccurredAt:  string(d.DateTime),
	}
	if ace := d.AccessControllerEvent; ace != nil {
		e.EmployeeID = strings.TrimSpace(string(ace.EmployeeNoString))
		e.CardNo = string(ace.CardNo)
		e.UserType = string(ace.UserType)
		e.MajorEventType, _ = strconv.Atoi(string(ace.MajorEventType))
		e.SubEventType, _ = strconv.Atoi(string(ace.SubEventType))
	}
	return e
}

// flexString accepts JSON strings, numbers, booleans and null.
// Firmware versions disagree on whether identifiers are quoted.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	case len(b) > 0 && (b[0] == '{' || b[0] == '['):
		// Nested structures are not identifiers; ignore rather than fail the event.
		*f = ""
		return nil
	default:
		*f = flexString(b)
		return nil
	}
}
