package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetup_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf, "info")

	log.Info("novel added", slog.Int64("id", 7))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "novel added" {
		t.Errorf("msg = %v, want %q", entry["msg"], "novel added")
	}
	if entry["id"] != float64(7) {
		t.Errorf("id = %v, want 7", entry["id"])
	}
}

func TestSetup_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf, "warn")

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}
	log.Warn("shown")
	if buf.Len() == 0 {
		t.Error("warn record not written")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestQuiet(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/status", true},
		{"/metrics", true},
		{"/static/img/cover/123.webp", true},
		{"/statusx", false},
		{"/api/novels", false},
		{"/static/novel_tracker.js", false},
	}
	for _, tt := range tests {
		if got := Quiet(tt.path); got != tt.want {
			t.Errorf("Quiet(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
