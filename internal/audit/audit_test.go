package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDispatcherAssignsIDAndDelivers(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: "login_success", UserID: 7, Success: true})

	select {
	case ev := <-sink.Events():
		if ev.ID == "" || len(ev.ID) != 26 {
			t.Fatalf("expected ulid id, got %q", ev.ID)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be filled")
		}
		if ev.UserID != 7 {
			t.Fatalf("unexpected user id %d", ev.UserID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestIDsAreOrdered(t *testing.T) {
	now := time.Now()
	a := NewID(now)
	b := NewID(now)
	if !(a < b) {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
}

func TestLogSinkWritesFields(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))
	sink.Emit(context.Background(), Event{
		ID:        "01HZ",
		EventType: "device_evicted",
		UserID:    3,
		DeviceID:  "abc",
		Success:   true,
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if line["event"] != "device_evicted" || line["device_id"] != "abc" || line["component"] != "audit" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestDropIfFullCountsDrops(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{release: block}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the sink, one fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_failure"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer")
	}

	close(block)
	d.Close()
	d.Emit(context.Background(), Event{EventType: "after_close"})
}

func TestCloseFlushesBuffered(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected 5 flushed events, got %d", got)
	}
}

type blockingSink struct{ release chan struct{} }

func (s blockingSink) Emit(context.Context, Event) { <-s.release }
