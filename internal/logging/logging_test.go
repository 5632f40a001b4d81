package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func TestSetupJSONCarriesServiceTag(t *testing.T) {
	var buf bytes.Buffer
	Setup("warn", "json", &buf)
	defer Setup("info", "text", io.Discard)

	slog.Info("below threshold")
	slog.Warn("chunk rejected", "upload_id", "abc")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if record["level"] != "WARN" {
		t.Fatalf("level %v, want WARN", record["level"])
	}
	if record["service"] != serviceAttr {
		t.Fatalf("service %v, want %q", record["service"], serviceAttr)
	}
	if record["upload_id"] != "abc" {
		t.Fatalf("upload_id %v", record["upload_id"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
