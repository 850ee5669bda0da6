package spool

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/gatehouse/types"
)

func testTask(id string, attempt int) types.DeliveryTask {
	return types.DeliveryTask{
		ID: id,
		Event: types.NormalizedEvent{
			EventType:  "AccessControllerEvent",
			IPAddress:  "10.0.0.5",
			OccurredAt: "2024-01-01T00:00:00",
			EmployeeID: "E42",
		},
		Attempt:        attempt,
		NextEligibleAt: time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC),
		EnqueuedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSaveLoad(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state", "pending.spool"))
	want := []types.DeliveryTask{testTask("a", 1), testTask("b", 3)}

	if err := s.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tasks, want 2", len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Attempt != want[i].Attempt || got[i].Event != want[i].Event {
			t.Errorf("task %d = %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].NextEligibleAt.Equal(want[i].NextEligibleAt) {
			t.Errorf("task %d NextEligibleAt = %v", i, got[i].NextEligibleAt)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	got, err := New(filepath.Join(t.TempDir(), "none.spool")).Load()
	if err != nil || got != nil {
		t.Fatalf("Load = %v, %v; want nil, nil", got, err)
	}
}

func TestSave_EmptyRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.spool")
	s := New(path)
	if err := s.Save([]types.DeliveryTask{testTask("a", 1)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(nil); err != nil {
		t.Fatalf("Save(nil) failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("spool file still present: %v", err)
	}
}

func TestDrain_RemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.spool")
	s := New(path)
	if err := s.Save([]types.DeliveryTask{testTask("a", 1)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Drain()
	if err != nil || len(got) != 1 {
		t.Fatalf("Drain = %d tasks, %v", len(got), err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("spool file still present after drain")
	}
	again, err := s.Drain()
	if err != nil || len(again) != 0 {
		t.Errorf("second Drain = %v, %v", again, err)
	}
}

func TestLoad_TruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.spool")
	s := New(path)
	if err := s.Save([]types.DeliveryTask{testTask("a", 1), testTask("b", 2)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := s.Load()
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorPartial {
		t.Fatalf("err = %v, want partial frame error", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("tasks before truncation = %+v", got)
	}

	drained, err := s.Drain()
	if len(drained) != 1 || !IsFrameError(err) {
		t.Errorf("Drain = %d tasks, %v", len(drained), err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("corrupt spool should be removed after drain")
	}
}

func TestReadFrame_TooLarge(t *testing.T) {
	r := bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	var rec record
	err := readFrame(r, &rec)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorTooLarge {
		t.Fatalf("err = %v, want too large", err)
	}
}

func TestReadFrame_Decode(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1, 0xC1}) // 0xC1 is never valid msgpack
	var rec record
	err := readFrame(&buf, &rec)
	var fe *FrameError
	if !errors.As(err, &fe) || fe.Kind != FrameErrorDecode {
		t.Fatalf("err = %v, want decode error", err)
	}
}
