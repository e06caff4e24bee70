package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher should report zero drops")
	}
}

func TestDispatcherDeliversBeforeClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink, nil)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()

	if got := len(sink.Events()); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
	d.Emit(context.Background(), Event{EventType: "late"})
	if got := len(sink.Events()); got != 10 {
		t.Fatalf("emit after close must be ignored, got %d events", got)
	}
}

type blockingSink struct{ release chan struct{} }

func (s blockingSink) Emit(context.Context, Event) { <-s.release }

func TestDispatcherDropIfFullCountsAndLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, zap.New(core))

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_success"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and buffer of one")
	}
	if logs.FilterMessage("audit buffer full, dropping events").Len() == 0 {
		t.Fatal("expected a backpressure warning")
	}

	close(sink.release)
	d.Close()
}

func TestDispatcherBlockingHonorsContext(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink, nil)

	// One event is held by the sink, one fills the buffer.
	d.Emit(context.Background(), Event{})
	d.Emit(context.Background(), Event{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{})
	if time.Since(start) > time.Second {
		t.Fatal("emit should return when ctx expires")
	}

	close(sink.release)
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("blocking mode never counts drops")
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "logout", UserID: "u1", TokenID: "t1", Success: true})

	var got Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if got.EventType != "logout" || got.TokenID != "t1" || !got.Success {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_success", UserID: "u1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "refresh_reuse_detected", UserID: "u1", TokenID: "t1", Error: "refresh_reuse"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels: %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["token_id"] != "t1" {
		t.Fatalf("expected token_id field, got %v", entries[1].ContextMap())
	}
}
