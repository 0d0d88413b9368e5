package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// newTestLogger returns a Logger that writes JSON into buf.
func newTestLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewWithHandler(h)
}

func TestLogger_Module(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	child := l.Module("dkg")

	child.Info("ceremony started")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}

	if entry["module"] != "dkg" {
		t.Fatalf("module = %v, want %q", entry["module"], "dkg")
	}
	if entry["msg"] != "ceremony started" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "ceremony started")
	}
}

func TestLogger_ModuleChain(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	child := l.Module("submission").With("sender", "0xabc")

	child.Info("accepted")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}

	if entry["module"] != "submission" {
		t.Fatalf("module = %v, want %q", entry["module"], "submission")
	}
	if entry["sender"] != "0xabc" {
		t.Fatalf("sender = %v, want %q", entry["sender"], "0xabc")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelWarn)

	l.Debug("dropped")
	l.Info("dropped too")
	if buf.Len() != 0 {
		t.Fatalf("records below level should be dropped, got %s", buf.String())
	}

	l.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn record should be emitted")
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic and must drop everything silently.
	l := Discard()
	l.Debug("a")
	l.Info("b")
	l.Warn("c")
	l.Error("d")
}

func TestSetDefault(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(newTestLogger(&buf, slog.LevelInfo))
	Info("via default")

	if buf.Len() == 0 {
		t.Fatal("package-level Info should write through the default logger")
	}

	SetDefault(nil)
	if Default() == nil {
		t.Fatal("SetDefault(nil) must keep the previous logger")
	}
}
