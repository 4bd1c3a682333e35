package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ongoingai/smithkit/internal/config"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return line
}

func TestNewLoggerAddsSpanIDs(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "traces export")
	defer span.End()

	var buf bytes.Buffer
	logger := NewLogger(&buf, config.LogConfig{Level: "info", Format: "json"})
	logger.InfoContext(ctx, "fetching trace", "trace_id_arg", "abc")

	line := decodeLogLine(t, &buf)
	if got := line["trace_id"]; got != span.SpanContext().TraceID().String() {
		t.Fatalf("trace_id=%v, want %s", got, span.SpanContext().TraceID())
	}
	if got := line["span_id"]; got != span.SpanContext().SpanID().String() {
		t.Fatalf("span_id=%v, want %s", got, span.SpanContext().SpanID())
	}
}

func TestNewLoggerWithoutSpanOmitsIDs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, config.LogConfig{Level: "info", Format: "json"}).With("component", "archive")
	logger.Info("archive queue full", "api_key", testLangSmithKey)

	line := decodeLogLine(t, &buf)
	if _, ok := line["trace_id"]; ok {
		t.Fatalf("line=%v, want no trace_id", line)
	}
	if line["component"] != "archive" {
		t.Fatalf("component=%v, want archive", line["component"])
	}
	if line["api_key"] != credentialRedacted {
		t.Fatalf("api_key=%v, want redacted", line["api_key"])
	}
}

func TestNewLoggerLevelAndFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, config.LogConfig{Level: "warn", Format: "text"})
	logger.Info("hidden")
	logger.WithGroup("harness").Warn("agent idle", "seconds", 5)

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("output=%q, info should be filtered at warn", got)
	}
	if !strings.Contains(got, "level=WARN") || !strings.Contains(got, "harness.seconds=5") {
		t.Fatalf("output=%q, want text warn line with grouped attr", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		" WARN": slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}
