package oplog

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestBufferRingOverwrite(t *testing.T) {
	buf := New(3)
	now := time.Now()

	for i := range 5 {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: "msg",
			Attrs:   map[string]any{"i": i},
		})
	}

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Attrs["i"] != 2 || entries[2].Attrs["i"] != 4 {
		t.Fatalf("expected oldest-first 2..4, got %v", entries)
	}
}

func TestBufferZeroSizeClamped(t *testing.T) {
	buf := New(0)

	buf.Write(Entry{Time: time.Now(), Level: "INFO", Message: "first"})
	buf.Write(Entry{Time: time.Now(), Level: "INFO", Message: "second"})

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 1 || entries[0].Message != "second" {
		t.Fatalf("expected single most-recent entry, got %v", entries)
	}
}

func TestBufferQueryFilters(t *testing.T) {
	buf := New(10)
	now := time.Now()

	buf.Write(Entry{Time: now, Level: "DEBUG", Message: "debug"})
	buf.Write(Entry{Time: now.Add(time.Second), Level: "INFO", Message: "info"})
	buf.Write(Entry{Time: now.Add(2 * time.Second), Level: "WARN", Message: "warn"})
	buf.Write(Entry{Time: now.Add(3 * time.Second), Level: "ERROR", Message: "error"})

	byLevel := buf.Query(time.Time{}, slog.LevelWarn, 0)
	if len(byLevel) != 2 || byLevel[0].Message != "warn" || byLevel[1].Message != "error" {
		t.Fatalf("level filter wrong: %v", byLevel)
	}

	bySince := buf.Query(now.Add(2*time.Second), slog.LevelDebug, 0)
	if len(bySince) != 2 {
		t.Fatalf("expected 2 entries since t+2s, got %d", len(bySince))
	}

	limited := buf.Query(time.Time{}, slog.LevelDebug, 1)
	if len(limited) != 1 || limited[0].Message != "error" {
		t.Fatalf("limit should keep most recent, got %v", limited)
	}
}

func TestBufferErrorCountSurvivesEviction(t *testing.T) {
	buf := New(2)
	for range 4 {
		buf.Write(Entry{Time: time.Now(), Level: "ERROR", Message: "boom"})
	}
	buf.Write(Entry{Time: time.Now(), Level: "INFO", Message: "ok"})

	if got := buf.ErrorCount(); got != 4 {
		t.Fatalf("expected 4 errors counted, got %d", got)
	}
}

func TestHandlerCaptures(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, nil)
	logger := slog.New(NewHandler(inner, buf))

	logger.Info("hello", "key", "value")
	logger.Warn("warning")

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "hello" || entries[0].Attrs["key"] != "value" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Level != "WARN" {
		t.Fatalf("expected WARN, got %q", entries[1].Level)
	}
}

func TestHandlerWithAttrsAndGroups(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, nil)
	logger := slog.New(NewHandler(inner, buf)).WithGroup("req").With("component", "api")

	logger.Info("handled", "path", "/api/health")

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Attrs["req.component"] != "api" {
		t.Errorf("pre-bound attr missing: %v", entries[0].Attrs)
	}
	if entries[0].Attrs["req.path"] != "/api/health" {
		t.Errorf("group-qualified attr missing: %v", entries[0].Attrs)
	}
}

func TestHandlerCapturesBelowInnerLevel(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewHandler(inner, buf))

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 3 {
		t.Fatalf("buffer should capture all levels, got %d", len(entries))
	}
}

func TestHandlerErrorAttrStringified(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Error("failed", "error", io.ErrUnexpectedEOF)

	entries := buf.Query(time.Time{}, slog.LevelError, 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Attrs["error"] != io.ErrUnexpectedEOF.Error() {
		t.Errorf("error attr not stringified: %v", entries[0].Attrs["error"])
	}
}
