package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%s: got %v want %v", in, got, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	l.Debug("hidden")
	l.Info("client_connected", "session_id", 1)
	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("not json: %v (%s)", err, out)
	}
	if rec["msg"] != "client_connected" {
		t.Fatalf("msg %v", rec["msg"])
	}
}

func TestSetIgnoresNil(t *testing.T) {
	before := L()
	Set(nil)
	if L() != before {
		t.Fatalf("nil replaced logger")
	}
}
