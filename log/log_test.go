package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestPrettyHandlerCritical(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "debug"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	Critical(context.Background(), logger, "An internal error occurred", "error", errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "CRITICAL") {
		t.Fatalf("expected CRITICAL level in %q", out)
	}
	if !strings.Contains(out, `"error":"boom"`) {
		t.Fatalf("expected error attr in %q", out)
	}
	if !strings.Contains(out, `"logger":"lol_team_assistant"`) {
		t.Fatalf("expected logger name in %q", out)
	}
}

func TestPrettyHandlerLevelFilter(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestPrettyHandlerGroups(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(NewUTCPrettyHandler(&buf, PrettyHandlerOptions{}))
	logger.WithGroup("cog").With("id", "cogs.ping").Info("loaded")

	if !strings.Contains(buf.String(), `"cog.id":"cogs.ping"`) {
		t.Fatalf("expected grouped attr in %q", buf.String())
	}
	if !strings.Contains(buf.String(), "+0000 UTC") {
		t.Fatalf("expected UTC timestamp in %q", buf.String())
	}
}

func TestJSONHandlerNamesCritical(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Format: "json", Name: "test"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	Critical(context.Background(), logger, "fatal")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if rec["level"] != "CRITICAL" {
		t.Fatalf("expected CRITICAL, got %v", rec["level"])
	}
	if rec["logger"] != "test" {
		t.Fatalf("expected logger test, got %v", rec["logger"])
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	cases := []Options{
		{Level: "loud"},
		{Format: "xml"},
		{TimeZone: "Not/AZone"},
	}
	for _, opts := range cases {
		if _, _, err := New(opts, &bytes.Buffer{}); err == nil {
			t.Fatalf("expected error for %+v", opts)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":         slog.LevelInfo,
		"DEBUG":    slog.LevelDebug,
		"warning":  slog.LevelWarn,
		"error":    slog.LevelError,
		"critical": LevelCritical,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
