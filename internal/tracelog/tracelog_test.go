package tracelog

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestEvents_Enabled(t *testing.T) {
	e := New([]string{EventDispatch})
	if !e.Enabled(EventDispatch) {
		t.Error("dispatch should be enabled")
	}
	if e.Enabled("invalid") {
		t.Error("invalid should not be enabled")
	}
	e.Set([]string{EventRotation, EventBackoff})
	if !e.Enabled(EventRotation) || !e.Enabled(EventBackoff) {
		t.Error("rotation and backoff should be enabled")
	}
}

func TestEvents_Set(t *testing.T) {
	e := New(nil)
	e.Set([]string{EventDispatch})
	if !e.Enabled(EventDispatch) {
		t.Error("after Set: dispatch should be enabled")
	}
	e.Set([]string{})
	if e.Enabled(EventDispatch) {
		t.Error("after Set([]): dispatch should be disabled")
	}
}

func TestEvents_Get(t *testing.T) {
	e := New([]string{EventDispatch})
	got := e.Get()
	if len(got) != 1 || got[0] != EventDispatch {
		t.Errorf("Get() = %v, want [%s]", got, EventDispatch)
	}
	e.Set([]string{})
	if got := e.Get(); len(got) != 0 {
		t.Errorf("Get() after clear = %v, want []", got)
	}
}

func TestTrace_LogsWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	events := New([]string{EventDispatch})
	Trace(events, logger, EventDispatch, "test trace", "key", "val")
	if buf.Len() == 0 {
		t.Error("expected trace to log when event enabled")
	}
}

func TestTrace_NoLogWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	events := New([]string{})
	Trace(events, logger, EventDispatch, "test trace", "key", "val")
	if buf.Len() != 0 {
		t.Errorf("expected no log when event disabled, got %q", buf.String())
	}
}

func TestTrace_NilEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	Trace(nil, logger, EventDispatch, "test trace", "key", "val")
	if buf.Len() != 0 {
		t.Errorf("expected no log when events nil, got %q", buf.String())
	}
}

func BenchmarkEnabled_Disabled(b *testing.B) {
	events := New([]string{})
	for i := 0; i < b.N; i++ {
		events.Enabled(EventRotation)
	}
}

func BenchmarkEnabled_Enabled(b *testing.B) {
	events := New([]string{EventRotation})
	for i := 0; i < b.N; i++ {
		events.Enabled(EventRotation)
	}
}
