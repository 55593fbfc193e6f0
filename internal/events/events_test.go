package events

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEmitAndSnapshot(t *testing.T) {
	l := NewLog(16)

	if _, err := l.Emit("info", "device.state_changed", "", map[string]any{
		"device_id": "L1",
		"old_state": "off",
		"new_state": "on",
	}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	snap := l.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	e := snap[0]
	if e.Name != "device.state_changed" || e.Level != "info" {
		t.Errorf("event = %+v", e)
	}
	if e.Fields["old_state"] != "off" || e.Fields["new_state"] != "on" {
		t.Errorf("fields = %v", e.Fields)
	}
}

func TestEmit_UnknownNameRejected(t *testing.T) {
	l := NewLog(16)
	if _, err := l.Emit("info", "device.exploded", "", nil); err == nil {
		t.Error("expected error for unknown event name")
	}
	if len(l.Snapshot()) != 0 {
		t.Error("rejected event was buffered")
	}
}

func TestBroadcastToSubscribers(t *testing.T) {
	l := NewLog(16)

	sub := l.Subscribe()
	defer l.Unsubscribe(sub)

	l.Emit("warning", "broker.reconnecting", "", nil)

	select {
	case e := <-sub:
		if e.Name != "broker.reconnecting" {
			t.Errorf("event name = %q", e.Name)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	l := NewLog(16)

	sub1 := l.Subscribe()
	sub2 := l.Subscribe()
	if got := l.SubscriberCount(); got != 2 {
		t.Errorf("subscriber count = %d, want 2", got)
	}

	l.Unsubscribe(sub1)
	if got := l.SubscriberCount(); got != 1 {
		t.Errorf("subscriber count = %d, want 1", got)
	}
	if _, open := <-sub1; open {
		t.Error("unsubscribed channel still open")
	}
	l.Unsubscribe(sub2)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	l := NewLog(16)

	sub := l.Subscribe()
	defer l.Unsubscribe(sub)

	// Fill the subscriber buffer and keep going; Emit must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			l.Emit("info", "alert.received", "", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

type failingStore struct{ calls int }

func (s *failingStore) Append(time.Time, string, string, string, map[string]any) error {
	s.calls++
	return errors.New("db down")
}

func TestStoreFailureReportedOnce(t *testing.T) {
	l := NewLog(16)
	store := &failingStore{}
	l.SetStore(store)

	l.Emit("info", "alert.received", "", nil)
	l.Emit("info", "alert.received", "", nil)
	l.Emit("info", "alert.received", "", nil)

	if store.calls != 3 {
		t.Errorf("store calls = %d, want 3", store.calls)
	}

	errCount := 0
	for _, e := range l.Snapshot() {
		if e.Name == "system.error" {
			errCount++
		}
	}
	if errCount != 1 {
		t.Errorf("system.error events = %d, want exactly 1", errCount)
	}
}

func TestRingBufferWrapsOldestFirst(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Event{Message: fmt.Sprintf("e%d", i)})
	}

	snap := rb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	want := []string{"e2", "e3", "e4"}
	for i, e := range snap {
		if e.Message != want[i] {
			t.Errorf("snapshot[%d] = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestRecentClamps(t *testing.T) {
	l := NewLog(8)
	for i := 0; i < 5; i++ {
		l.Emit("info", "alert.received", fmt.Sprintf("a%d", i), nil)
	}

	recent := l.Recent(2)
	if len(recent) != 2 || recent[1].Message != "a4" {
		t.Errorf("recent = %+v", recent)
	}
	if got := len(l.Recent(50)); got != 5 {
		t.Errorf("recent(50) len = %d, want 5", got)
	}
}
