package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// captureLogOutput redirects the global logger to a buffer for the duration
// of f and returns what was written.
func captureLogOutput(f func()) string {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	old := SetLogger(slog.New(handler))
	defer SetLogger(old)

	f()
	return buf.String()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("text"); err != nil || f != FormatText {
		t.Errorf("ParseFormat(text) = %v, %v", f, err)
	}
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestInitLoggerTo(t *testing.T) {
	old := GetLogger()
	defer SetLogger(old)

	tests := []struct {
		name      string
		level     Level
		format    Format
		logFunc   func()
		wantEmpty bool
	}{
		{"json info emits info", LevelInfo, FormatJSON, func() { Info("hello") }, false},
		{"json warn drops info", LevelWarn, FormatJSON, func() { Info("hello") }, true},
		{"text debug emits debug", LevelDebug, FormatText, func() { Debug("hello") }, false},
		{"error drops warn", LevelError, FormatText, func() { Warn("hello") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			InitLoggerTo(&buf, tt.level, tt.format)
			tt.logFunc()
			if got := buf.Len() == 0; got != tt.wantEmpty {
				t.Errorf("empty = %v, want %v (output %q)", got, tt.wantEmpty, buf.String())
			}
		})
	}
}

func TestReplaceAttrTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := replaceAttr(nil, slog.Time(slog.TimeKey, ts))
	if a.Value.String() != "2024-01-02T03:04:05Z" {
		t.Errorf("timestamp = %q", a.Value.String())
	}
	other := replaceAttr(nil, slog.String("k", "v"))
	if other.Value.String() != "v" {
		t.Errorf("non-time attr changed: %q", other.Value.String())
	}
}

func TestOperationID(t *testing.T) {
	ctx := WithOperationID(context.Background(), "vac-1")
	if got := GetOperationID(ctx); got != "vac-1" {
		t.Errorf("GetOperationID() = %q", got)
	}
	if got := GetOperationID(context.Background()); got != "" {
		t.Errorf("GetOperationID(empty) = %q", got)
	}

	out := captureLogOutput(func() {
		InfoContext(ctx, "step")
	})
	if !strings.Contains(out, `"op_id":"vac-1"`) {
		t.Errorf("output missing op_id: %s", out)
	}
}

func TestLoggingFunctions(t *testing.T) {
	tests := []struct {
		name  string
		fn    func()
		level string
	}{
		{"debug", func() { Debug("m", "k", 1) }, "DEBUG"},
		{"info", func() { Info("m", "k", 1) }, "INFO"},
		{"warn", func() { Warn("m", "k", 1) }, "WARN"},
		{"error", func() { Error("m", "k", 1) }, "ERROR"},
		{"debug ctx", func() { DebugContext(context.Background(), "m") }, "DEBUG"},
		{"warn ctx", func() { WarnContext(context.Background(), "m") }, "WARN"},
		{"error ctx", func() { ErrorContext(context.Background(), "m") }, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureLogOutput(tt.fn)
			var rec map[string]any
			if err := json.Unmarshal([]byte(out), &rec); err != nil {
				t.Fatalf("unmarshal %q: %v", out, err)
			}
			if rec["level"] != tt.level {
				t.Errorf("level = %v, want %s", rec["level"], tt.level)
			}
		})
	}
}

func TestStoreEvent(t *testing.T) {
	out := captureLogOutput(func() {
		StoreEvent("hot_journal_rollback", "/tmp/x.db", "pages", 3)
	})
	for _, want := range []string{`"msg":"store_event"`, `"event":"hot_journal_rollback"`, `"pages":3`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}
}

func TestCompaction(t *testing.T) {
	ok := captureLogOutput(func() {
		Compaction(context.Background(), "a.db", 1024, 16, 5*time.Millisecond, nil)
	})
	if !strings.Contains(ok, `"level":"INFO"`) || !strings.Contains(ok, `"reserve":16`) {
		t.Errorf("success output = %s", ok)
	}

	failed := captureLogOutput(func() {
		Compaction(context.Background(), "a.db", 1024, 16, time.Millisecond, errors.New("disk full"))
	})
	if !strings.Contains(failed, `"level":"ERROR"`) || !strings.Contains(failed, `"error":"disk full"`) {
		t.Errorf("failure output = %s", failed)
	}
}
