package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/gatehouse/delivery"
	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/metrics"
	"github.com/pithecene-io/gatehouse/session"
	"github.com/pithecene-io/gatehouse/spool"
	"github.com/pithecene-io/gatehouse/stream"
	"github.com/pithecene-io/gatehouse/types"
)

// deviceServer serves the capture once, then answers 503.
func deviceServer(t *testing.T, capture []byte) *httptest.Server {
	t.Helper()
	var served atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != stream.DefaultPath {
			http.NotFound(w, r)
			return
		}
		if served.Swap(true) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "multipart/mixed; boundary=MIME_boundary")
		_, _ = w.Write(capture)
	}))
	t.Cleanup(ts.Close)
	return ts
}

type relayLog struct {
	mu       sync.Mutex
	payloads []types.RelayPayload
	paths    []string
	pings    atomic.Int32
}

func (l *relayLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.payloads)
}

// relayServer answers event posts with status; "/ping/" posts are heartbeats.
func relayServer(t *testing.T, status int) (*httptest.Server, *relayLog) {
	t.Helper()
	rl := &relayLog{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(r.URL.Path) >= 6 && r.URL.Path[:6] == "/ping/" {
			rl.pings.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		var p types.RelayPayload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("relay: bad body %q: %v", body, err)
		}
		rl.mu.Lock()
		rl.payloads = append(rl.payloads, p)
		rl.paths = append(rl.paths, r.URL.Path)
		rl.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(ts.Close)
	return ts, rl
}

func stopWhen(cond func() bool) session.StopSignal {
	return session.StopFunc(cond)
}

func runIngester(t *testing.T, cfg IngesterConfig) *IngestResult {
	t.Helper()
	in, err := NewIngester(cfg)
	if err != nil {
		t.Fatalf("new ingester: %v", err)
	}
	done := make(chan *IngestResult, 1)
	go func() { done <- in.Run(t.Context()) }()
	select {
	case res := <-done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("ingester did not stop")
		return nil
	}
}

func TestIngester_EndToEnd(t *testing.T) {
	device := deviceServer(t, loadCapture(t))
	relay, rl := relayServer(t, http.StatusOK)

	src, err := stream.New(stream.Config{Address: device.URL, Auth: stream.AuthNone})
	if err != nil {
		t.Fatalf("source: %v", err)
	}

	m := metrics.NewCollector("device", "none", "sess")
	res := runIngester(t, IngesterConfig{
		Device: "device",
		Dial:   SourceDialer(src),
		Session: session.Config{
			BackoffBase:  time.Hour,
			PollInterval: 5 * time.Millisecond,
		},
		Delivery:  delivery.Config{URL: relay.URL + "/api/turno/", Token: "tok"},
		Heartbeat: &delivery.HeartbeatConfig{URL: relay.URL + "/ping/", Token: "tok", Interval: time.Hour},
		Stop:      stopWhen(func() bool { return rl.count() >= 2 && rl.pings.Load() >= 1 }),
		Logger:    log.Nop(),
		Metrics:   m,
	})

	if res.Err != nil {
		t.Fatalf("unexpected fatal error: %v", res.Err)
	}
	if res.Abandoned != 0 {
		t.Errorf("Abandoned = %d, want 0", res.Abandoned)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.payloads) != 2 {
		t.Fatalf("relay received %d posts, want 2", len(rl.payloads))
	}
	got := map[string]types.RelayPayload{}
	for i, p := range rl.payloads {
		got[p.EmployeeNoString] = p
		if rl.paths[i] != "/api/turno/tok" {
			t.Errorf("path = %q", rl.paths[i])
		}
	}
	if p, ok := got["1042"]; !ok || p.DateTime != "2024-03-09T14:05:07+01:00" || p.IPAddress != "192.168.1.64" {
		t.Errorf("payload for 1042 = %+v", p)
	}
	if _, ok := got["77"]; !ok {
		t.Error("missing payload for 77")
	}

	snap := res.Metrics
	if snap.Connects != 1 {
		t.Errorf("Connects = %d, want 1", snap.Connects)
	}
	if snap.TasksEnqueued != 2 || snap.OutcomesByKind["delivered"] != 2 {
		t.Errorf("delivery metrics = %+v", snap)
	}
	if snap.PartsByKind["filtered"] != 1 || snap.EventsIneligible != 1 {
		t.Errorf("extract metrics = %+v", snap)
	}
	if snap.HeartbeatsOK+snap.HeartbeatsFailed < 1 || rl.pings.Load() < 1 {
		t.Errorf("heartbeat not sent: ok=%d failed=%d pings=%d", snap.HeartbeatsOK, snap.HeartbeatsFailed, rl.pings.Load())
	}
}

func TestIngester_SpoolsAndResumesPendingDeliveries(t *testing.T) {
	sp := spool.New(filepath.Join(t.TempDir(), "pending.spool"))

	// First run: the relay keeps failing, so both tasks sit in backoff
	// when the stop signal fires.
	device := deviceServer(t, loadCapture(t))
	failing, failLog := relayServer(t, http.StatusServiceUnavailable)
	src, err := stream.New(stream.Config{Address: device.URL, Auth: stream.AuthNone})
	if err != nil {
		t.Fatalf("source: %v", err)
	}

	first := runIngester(t, IngesterConfig{
		Dial:     SourceDialer(src),
		Session:  session.Config{BackoffBase: time.Hour, PollInterval: 5 * time.Millisecond},
		Delivery: delivery.Config{URL: failing.URL + "/", Token: "tok", Policy: delivery.Policy{Base: time.Hour, MaxAttempts: 5}},
		Spool:    sp,
		Stop:     stopWhen(func() bool { return failLog.count() >= 2 }),
		Metrics:  metrics.NewCollector("device", "none", "run-1"),
	})
	if first.Abandoned != 2 || !first.Spooled {
		t.Fatalf("first run: abandoned=%d spooled=%v", first.Abandoned, first.Spooled)
	}

	pending, err := sp.Load()
	if err != nil {
		t.Fatalf("load spool: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("spool holds %d tasks, want 2", len(pending))
	}
	for _, task := range pending {
		if task.Attempt != 1 {
			t.Errorf("task %s attempt = %d, want 1", task.ID, task.Attempt)
		}
	}

	// Second run: the device is unreachable but spooled tasks still go out.
	// The clock starts where the spooled backoff ends.
	resumeAt := pending[0].NextEligibleAt
	for _, task := range pending[1:] {
		if task.NextEligibleAt.After(resumeAt) {
			resumeAt = task.NextEligibleAt
		}
	}
	ok, okLog := relayServer(t, http.StatusOK)
	m := metrics.NewCollector("device", "none", "run-2")
	second := runIngester(t, IngesterConfig{
		Dial: func(context.Context) (session.Stream, error) {
			return nil, errors.New("connection refused")
		},
		Session:         session.Config{BackoffBase: time.Hour, PollInterval: 5 * time.Millisecond},
		Delivery:        delivery.Config{URL: ok.URL + "/", Token: "tok"},
		DeliveryOptions: []delivery.Option{delivery.WithClock(func() time.Time { return resumeAt })},
		Spool:           sp,
		Stop:            stopWhen(func() bool { return okLog.count() >= 2 }),
		Metrics:         m,
	})
	if second.Resumed != 2 {
		t.Errorf("Resumed = %d, want 2", second.Resumed)
	}
	if second.Abandoned != 0 {
		t.Errorf("Abandoned = %d, want 0", second.Abandoned)
	}
	if second.Metrics.OutcomesByKind["delivered"] != 2 {
		t.Errorf("outcomes = %v", second.Metrics.OutcomesByKind)
	}

	left, err := sp.Load()
	if err != nil || len(left) != 0 {
		t.Errorf("spool should be empty after delivery, got %d tasks (err %v)", len(left), err)
	}
}

func TestIngester_BackoffExhaustedIsFatal(t *testing.T) {
	res := runIngester(t, IngesterConfig{
		Dial: func(context.Context) (session.Stream, error) {
			return nil, errors.New("connection refused")
		},
		Session: session.Config{
			BackoffBase:  time.Millisecond,
			BackoffMax:   time.Millisecond,
			MaxAttempts:  2,
			PollInterval: time.Millisecond,
		},
		Delivery: delivery.Config{URL: "http://127.0.0.1:1/", Token: "tok"},
	})

	if !errors.Is(res.Err, session.ErrBackoffExhausted) {
		t.Fatalf("expected ErrBackoffExhausted, got %v", res.Err)
	}
	if status, code := DetermineOutcome(res); status != types.RunDeviceLost || code != ExitCodeFatal {
		t.Errorf("outcome = %s/%d", status, code)
	}
}

func TestNewIngester_Validation(t *testing.T) {
	if _, err := NewIngester(IngesterConfig{Delivery: delivery.Config{URL: "http://x/"}}); err == nil {
		t.Error("expected error without dialer")
	}
	dial := func(context.Context) (session.Stream, error) { return nil, errors.New("x") }
	if _, err := NewIngester(IngesterConfig{Dial: dial}); err == nil {
		t.Error("expected error without relay URL")
	}
}
