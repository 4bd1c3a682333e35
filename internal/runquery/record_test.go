package runquery

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ongoingai/smithkit/internal/langsmith"
	"github.com/ongoingai/smithkit/internal/output"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testRun(id, parent, name string, startOffset, duration time.Duration) langsmith.Run {
	run := langsmith.Run{
		ID:        id,
		TraceID:   "trace-1",
		Name:      name,
		RunType:   "chain",
		StartTime: langsmith.NewTime(base.Add(startOffset)),
		EndTime:   langsmith.NewTime(base.Add(startOffset + duration)),
	}
	if parent != "" {
		run.ParentRunID = &parent
	}
	return run
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   *int64
		want string
	}{
		{in: nil, want: "N/A"},
		{in: ptr[int64](0), want: "0ms"},
		{in: ptr[int64](999), want: "999ms"},
		{in: ptr[int64](1000), want: "1.00s"},
		{in: ptr[int64](12345), want: "12.35s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Fatalf("FormatDuration(%v)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDurationMSTruncates(t *testing.T) {
	t.Parallel()

	run := testRun("r", "", "n", 0, 1500*time.Microsecond)
	if got := DurationMS(run); got == nil || *got != 1 {
		t.Fatalf("DurationMS()=%v, want 1", got)
	}
	run.EndTime = nil
	if got := DurationMS(run); got != nil {
		t.Fatalf("DurationMS(no end)=%v, want nil", *got)
	}
}

func TestExtractBaseFieldsOnly(t *testing.T) {
	t.Parallel()

	run := testRun("r1", "", "agent", 0, time.Second)
	run.TraceID = ""
	got, err := output.JSON(Extract(run, Detail{}))
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}
	want := `{"run_id": "r1", "trace_id": "r1", "name": "agent", "run_type": "chain", "parent_run_id": null, "start_time": "2024-05-01T10:00:00", "end_time": "2024-05-01T10:00:01"}`
	if got != want {
		t.Fatalf("record=%s\nwant   %s", got, want)
	}
}

func TestExtractWithMetadataAndIO(t *testing.T) {
	t.Parallel()

	run := testRun("r2", "r1", "llm", 0, 250*time.Millisecond)
	run.Status = "success"
	run.TotalTokens = ptr[int64](12)
	run.Inputs = map[string]any{"q": "hi"}
	run.Extra = map[string]any{"metadata": map[string]any{"user": "u1"}}

	rec := Extract(run, Full)
	if rec.ParentRunID == nil || *rec.ParentRunID != "r1" {
		t.Fatalf("parent=%v, want r1", rec.ParentRunID)
	}
	if rec.MetadataFields == nil || rec.IOFields == nil {
		t.Fatalf("record=%+v, want metadata and io groups", rec)
	}
	if *rec.Status != "success" || *rec.DurationMS != 250 || *rec.TokenUsage.TotalTokens != 12 {
		t.Fatalf("metadata=%+v, want success/250/12", rec.MetadataFields)
	}
	if diff := cmp.Diff(map[string]any{"user": "u1"}, rec.CustomMetadata); diff != "" {
		t.Fatalf("custom metadata mismatch (-want +got):\n%s", diff)
	}

	encoded, err := output.JSON(rec)
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}
	for _, key := range []string{`"token_usage": {`, `"costs": {`, `"inputs": {"q": "hi"}`, `"outputs": null`, `"error": null`} {
		if !strings.Contains(encoded, key) {
			t.Fatalf("record %s missing %s", encoded, key)
		}
	}
}

func TestSortNewestFirstPutsUnstartedLast(t *testing.T) {
	t.Parallel()

	runs := []langsmith.Run{
		testRun("old", "", "a", 0, 0),
		{ID: "none"},
		testRun("new", "", "b", time.Minute, 0),
	}
	SortNewestFirst(runs)
	var ids []string
	for _, run := range runs {
		ids = append(ids, run.ID)
	}
	if diff := cmp.Diff([]string{"new", "old", "none"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}
