package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/gatehouse/adapter"
)

func testEvent(taskID string) *adapter.OutcomeEvent {
	return &adapter.OutcomeEvent{
		EventType:  adapter.EventTypeDeliveryOutcome,
		TaskID:     taskID,
		Device:     "192.168.1.64",
		EmployeeNo: "1042",
		IPAddress:  "192.168.1.64",
		DateTime:   "2024-03-09T14:05:07+01:00",
		Outcome:    "delivered",
		Status:     200,
		Attempts:   1,
		Timestamp:  "2024-03-09T13:05:08Z",
	}
}

// asyncReceive starts a goroutine that reads one message from the subscriber
// and sends it to the returned channel. Must be called BEFORE Publish to avoid
// deadlocking miniredis's synchronous pub/sub delivery.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestPublish_DefaultChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	n, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	if err := n.Publish(t.Context(), testEvent("task-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := waitMessage(t, ch)
	if msg.Channel != DefaultChannel {
		t.Errorf("expected channel %q, got %q", DefaultChannel, msg.Channel)
	}

	var received adapter.OutcomeEvent
	if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if received.TaskID != "task-1" {
		t.Errorf("expected task-1, got %s", received.TaskID)
	}
	if received.EventType != adapter.EventTypeDeliveryOutcome {
		t.Errorf("expected %s, got %s", adapter.EventTypeDeliveryOutcome, received.EventType)
	}
	if received.EmployeeNo != "1042" || received.Outcome != "delivered" {
		t.Errorf("unexpected payload: %+v", received)
	}
}

func TestPublish_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	customChannel := "ops:door-events"
	n, err := New(Config{URL: "redis://" + mr.Addr(), Channel: customChannel})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe(customChannel)
	ch := asyncReceive(sub)

	if err := n.Publish(t.Context(), testEvent("task-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := waitMessage(t, ch)
	if msg.Channel != customChannel {
		t.Errorf("expected channel %q, got %q", customChannel, msg.Channel)
	}
}

func TestPublish_RecentListCapped(t *testing.T) {
	mr := miniredis.RunT(t)

	n, err := New(Config{
		URL:       "redis://" + mr.Addr(),
		RecentKey: "gatehouse:recent",
		RecentMax: 2,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	for _, id := range []string{"a", "b", "c"} {
		if err := n.Publish(t.Context(), testEvent(id)); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	items, err := mr.List("gatehouse:recent")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items after trim, got %d", len(items))
	}

	var newest adapter.OutcomeEvent
	if err := json.Unmarshal([]byte(items[0]), &newest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if newest.TaskID != "c" {
		t.Errorf("expected newest first (c), got %s", newest.TaskID)
	}
}

func TestPublish_ExhaustsRetries(t *testing.T) {
	n, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 2, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	if err := n.Publish(t.Context(), testEvent("task-1")); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	n, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	if err := n.Publish(ctx, testEvent("task-1")); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty url", Config{}},
		{"invalid url", Config{URL: "not-a-redis-url"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	mr := miniredis.RunT(t)

	n, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = n.Close() }()

	if n.config.Channel != DefaultChannel {
		t.Errorf("expected default channel %q, got %q", DefaultChannel, n.config.Channel)
	}
	if n.config.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, n.config.Timeout)
	}
	if n.config.RecentMax != DefaultRecentMax {
		t.Errorf("expected default recent max %d, got %d", DefaultRecentMax, n.config.RecentMax)
	}
}

func TestClose_ClosesConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	n, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := n.Publish(t.Context(), testEvent("task-1")); err == nil {
		t.Fatal("expected error publishing after close")
	}
}
