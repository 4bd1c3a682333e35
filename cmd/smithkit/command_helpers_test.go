package main

import (
	"errors"
	"testing"
	"time"

	"github.com/ongoingai/smithkit/internal/langsmith"
)

func TestNormalizeChoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "default", raw: "", want: "pretty"},
		{name: "case and space", raw: " JSON ", want: "json"},
		{name: "jsonl", raw: "jsonl", want: "jsonl"},
		{name: "unknown", raw: "csv", wantErr: true},
	}
	for _, tt := range tests {
		got, err := normalizeChoice("format", tt.raw, "pretty", "json", "jsonl", "pretty")
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			if err.Error() != `invalid format "csv": expected json, jsonl or pretty` {
				t.Fatalf("%s: error=%q", tt.name, err.Error())
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got=%q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestParseHistoryTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		endOfDay bool
		want     time.Time
		wantErr  bool
	}{
		{name: "empty", raw: "", want: time.Time{}},
		{name: "date start", raw: "2026-03-01", want: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "date end", raw: "2026-03-01", endOfDay: true, want: time.Date(2026, 3, 1, 23, 59, 59, 999999999, time.UTC)},
		{name: "rfc3339 offset", raw: "2026-03-01T12:00:00+02:00", want: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{name: "garbage", raw: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseHistoryTime(tt.raw, tt.endOfDay)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%s: got=%s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestClientErrorMapsMissingKey(t *testing.T) {
	t.Parallel()

	err := clientError(langsmith.ErrMissingAPIKey)
	var exitErr *exitError
	if !errors.As(err, &exitErr) || exitErr.code != 1 {
		t.Fatalf("clientError()=%v, want exit code 1", err)
	}
}

func TestExitCodeZeroIsNil(t *testing.T) {
	t.Parallel()

	if err := exitCode(0); err != nil {
		t.Fatalf("exitCode(0)=%v, want nil", err)
	}
	var exitErr *exitError
	if err := exitCode(3); !errors.As(err, &exitErr) || exitErr.code != 3 {
		t.Fatalf("exitCode(3)=%v, want code 3", err)
	}
}
