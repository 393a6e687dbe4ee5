package util

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("ParseLevel(loud) accepted")
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "octaflight.log")
	log, closer, err := NewLogger(LogConfig{Level: "debug", Format: "json", File: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Debug("speed update", slog.Float64("speed", 2.5))
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"speed update"`) || !strings.Contains(string(b), `"speed":2.5`) {
		t.Fatalf("log file = %s", b)
	}
}

func TestNewLoggerRejectsFormat(t *testing.T) {
	if _, _, err := NewLogger(LogConfig{Format: "xml"}); err == nil {
		t.Fatalf("NewLogger accepted xml")
	}
}
