package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"dev":     slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"prod":    slog.LevelError,
		"bogus":   slog.LevelError,
	}
	for in, want := range cases {
		t.Setenv("LOG_LEVEL", in)
		if got := LevelFromEnv(); got != want {
			t.Errorf("LOG_LEVEL=%q: got %v, want %v", in, got, want)
		}
	}
}

func TestPionFactoryRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	l := NewPionFactory(logger).NewLogger("ice")

	l.Debugf("hidden %d", 1)
	l.Warnf("visible %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %q", out)
	}
	if !strings.Contains(out, "visible 2") || !strings.Contains(out, "scope=ice") {
		t.Fatalf("warn line missing or unscoped: %q", out)
	}
}
