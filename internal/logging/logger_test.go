package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func captureGlobal(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })
	return &buf
}

func decodeLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("invalid json log line %q: %v", line, err)
	}
	return m
}

func TestInitRespectsLevel(t *testing.T) {
	buf := captureGlobal(t, "warn")

	Info().Msg("hidden")
	Warn().Msg("shown")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry should be filtered at warn level: %s", out)
	}
	entry := decodeLine(t, out)
	if entry["message"] != "shown" || entry["level"] != "warn" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		"WARNING": "warn",
		"error":   "error",
		"bogus":   "info",
		"":        "info",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCtxAddsIDs(t *testing.T) {
	buf := captureGlobal(t, "info")

	ctx := ContextWithCorrelationID(context.Background(), "abcd1234")
	ctx = ContextWithRequestID(ctx, "req-1")
	Ctx(ctx).Info().Msg("hello")

	entry := decodeLine(t, strings.TrimSpace(buf.String()))
	if entry["correlation_id"] != "abcd1234" {
		t.Errorf("expected correlation_id, got %v", entry)
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("expected request_id, got %v", entry)
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	a, b := GenerateCorrelationID(), GenerateCorrelationID()
	if len(a) != 8 || a == b {
		t.Errorf("unexpected correlation ids %q %q", a, b)
	}
	if got := CorrelationIDFromContext(ContextWithNewCorrelationID(context.Background())); len(got) != 8 {
		t.Errorf("expected generated id in context, got %q", got)
	}
}

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	buf := captureGlobal(t, "debug")

	logger := NewSlogLogger().With("service", "delivery-worker").WithGroup("event")
	logger.Warn("service failed", slog.Int("restarts", 3))

	entry := decodeLine(t, strings.TrimSpace(buf.String()))
	if entry["level"] != "warn" || entry["message"] != "service failed" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["service"] != "delivery-worker" {
		t.Errorf("expected service attr, got %v", entry)
	}
	if entry["event.restarts"] != float64(3) {
		t.Errorf("expected grouped attr, got %v", entry)
	}
}
