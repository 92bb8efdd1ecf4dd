package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewEventHasUniqueIDs(t *testing.T) {
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	a := NewEvent("login_success", at)
	b := NewEvent("login_success", at)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if a.Timestamp.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", a.Timestamp.Location())
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	ev := NewEvent("logout_session", time.Unix(0, 0))
	ev.UserID = "7"
	sink.Emit(context.Background(), ev)
	sink.Emit(context.Background(), ev)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded.UserID != "7" || decoded.EventType != "logout_session" {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	ok := NewEvent("login_success", time.Unix(0, 0))
	ok.Success = true
	sink.Emit(context.Background(), ok)

	fail := NewEvent("login_failure", time.Unix(0, 0))
	fail.Error = "invalid_credentials"
	fail.Identifier = "a@x.com"
	fail.RequestID = "req-7"
	sink.Emit(context.Background(), fail)

	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "level=WARN") {
		t.Fatalf("expected info and warn entries, got %s", out)
	}
	if !strings.Contains(out, "identifier=a@x.com") || !strings.Contains(out, "error=invalid_credentials") ||
		!strings.Contains(out, "request_id=req-7") {
		t.Fatalf("missing attributes in %s", out)
	}
}

type countingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *countingSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *countingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)
	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), NewEvent("x", time.Now()))
	}
	d.Close()
	if sink.len() != 20 {
		t.Fatalf("expected 20 delivered events, got %d", sink.len())
	}
	d.Emit(context.Background(), NewEvent("after_close", time.Now()))
	if sink.len() != 20 {
		t.Fatalf("expected emits after close to be ignored")
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(context.Context, Event) { <-s.release }

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), NewEvent("x", time.Now()))
	}
	if d.Dropped() == 0 {
		t.Fatalf("expected dropped events with a full buffer")
	}
	close(sink.release)
	d.Close()
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatalf("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("nil dispatcher should report zero drops")
	}
}

type panickingSink struct{ countingSink }

func (s *panickingSink) Emit(ctx context.Context, ev Event) {
	if ev.EventType == "boom" {
		panic("sink failure")
	}
	s.countingSink.Emit(ctx, ev)
}

func TestDispatcherSurvivesSinkPanic(t *testing.T) {
	sink := &panickingSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8, Logger: logger}, sink)
	d.Emit(context.Background(), NewEvent("x", time.Now()))
	d.Emit(context.Background(), NewEvent("boom", time.Now()))
	d.Emit(context.Background(), NewEvent("y", time.Now()))
	d.Close()

	if sink.len() != 2 {
		t.Fatalf("expected 2 delivered events around the panic, got %d", sink.len())
	}
	if d.Failed() != 1 {
		t.Fatalf("expected 1 failed event, got %d", d.Failed())
	}
}

// ctxBlockingSink blocks until its context is canceled.
type ctxBlockingSink struct{}

func (ctxBlockingSink) Emit(ctx context.Context, _ Event) { <-ctx.Done() }

func TestDispatcherDrainTimeout(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8, DrainTimeout: 20 * time.Millisecond}, ctxBlockingSink{})
	for i := 0; i < 4; i++ {
		d.Emit(context.Background(), NewEvent("x", time.Now()))
	}

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the drain timeout")
	}
	// The first event was handed to the sink; the rest expire in the buffer.
	if d.Dropped() == 0 {
		t.Fatal("expected undelivered events to count as dropped")
	}
}

func TestDispatcherCanceledEmitCountsDrop(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.release)
		d.Close()
	}()

	d.Emit(context.Background(), NewEvent("held", time.Now()))
	d.Emit(context.Background(), NewEvent("buffered", time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	d.Emit(ctx, NewEvent("late", time.Now()))
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", d.Dropped())
	}
}
