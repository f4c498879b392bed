package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelDebug)

	log.With("component", "gateway").Info("session committed", "session", "s1", "seq", 5)

	line := buf.String()

	if !strings.Contains(line, "[INF] session committed") {
		t.Errorf("missing level/message in %q", line)
	}

	for _, want := range []string{"component=gateway", "session=s1", "seq=5"} {
		if !strings.Contains(line, want) {
			t.Errorf("missing %q in %q", want, line)
		}
	}

	if !strings.HasSuffix(line, "\n") {
		t.Error("line not newline terminated")
	}
}

func TestHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelWarn)

	log.Info("hidden")
	log.Debug("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("records below level were written: %q", out)
	}

	if !strings.Contains(out, "[WRN] shown") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestHandlerGroup(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo).WithGroup("peer")

	log.Info("dial", "addr", "127.0.0.1:9000")

	if !strings.Contains(buf.String(), "peer.addr=127.0.0.1:9000") {
		t.Errorf("group prefix missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
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

func TestDiscard(t *testing.T) {
	log := Discard()
	if log.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled for errors")
	}

	if OrDiscard(nil) == nil {
		t.Error("OrDiscard(nil) returned nil")
	}
}
