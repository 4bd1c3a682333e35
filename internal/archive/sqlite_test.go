package archive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "smithkit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRuns(n int) []*RunRecord {
	runs := make([]*RunRecord, 0, n)
	for i := 0; i < n; i++ {
		runs = append(runs, &RunRecord{
			ID:          fmt.Sprintf("run-%02d", i),
			TraceID:     fmt.Sprintf("trace-%d", i%2),
			Name:        "agent",
			RunType:     "chain",
			StartTime:   baseTime.Add(time.Duration(i) * time.Second),
			TotalTokens: int64(10 * i),
			TotalCost:   0.25,
			Source:      "traces/out.jsonl",
			Payload:     `{"id":"x"}`,
			ExportedAt:  baseTime.Add(time.Duration(i) * time.Minute),
		})
	}
	return runs
}

func runIDs(items []*RunRecord) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestSQLiteStoreQueryRunsPagesNewestFirst(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()
	if err := store.WriteBatch(ctx, sampleRuns(5)); err != nil {
		t.Fatalf("WriteBatch() error: %v", err)
	}

	var pages [][]string
	cursor := ""
	for {
		result, err := store.QueryRuns(ctx, RunFilter{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("QueryRuns() error: %v", err)
		}
		pages = append(pages, runIDs(result.Items))
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	want := [][]string{{"run-04", "run-03"}, {"run-02", "run-01"}, {"run-00"}}
	if diff := cmp.Diff(want, pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStoreFiltersAndGetRun(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()
	if err := store.WriteBatch(ctx, sampleRuns(4)); err != nil {
		t.Fatalf("WriteBatch() error: %v", err)
	}

	result, err := store.QueryRuns(ctx, RunFilter{TraceID: "trace-1"})
	if err != nil {
		t.Fatalf("QueryRuns() error: %v", err)
	}
	if diff := cmp.Diff([]string{"run-03", "run-01"}, runIDs(result.Items)); diff != "" {
		t.Fatalf("trace filter mismatch (-want +got):\n%s", diff)
	}

	result, err = store.QueryRuns(ctx, RunFilter{From: baseTime.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("QueryRuns() error: %v", err)
	}
	if diff := cmp.Diff([]string{"run-03", "run-02"}, runIDs(result.Items)); diff != "" {
		t.Fatalf("from filter mismatch (-want +got):\n%s", diff)
	}

	got, err := store.GetRun(ctx, "run-02")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	want := sampleRuns(3)[2]
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("GetRun() mismatch (-want +got):\n%s", diff)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun(missing) error=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreWriteRunUpserts(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()
	store.now = func() time.Time { return baseTime }

	if err := store.WriteRun(ctx, &RunRecord{ID: "root", Name: "first"}); err != nil {
		t.Fatalf("WriteRun() error: %v", err)
	}
	if err := store.WriteRun(ctx, &RunRecord{ID: "root", Name: "second", Error: "boom"}); err != nil {
		t.Fatalf("second WriteRun() error: %v", err)
	}

	got, err := store.GetRun(ctx, "root")
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if got.Name != "second" || got.Error != "boom" {
		t.Fatalf("run=%+v, want updated name and error", got)
	}
	if got.TraceID != "root" || got.Payload != "{}" || !got.ExportedAt.Equal(baseTime) {
		t.Fatalf("run=%+v, want defaults filled in", got)
	}
	if !got.StartTime.IsZero() {
		t.Fatalf("StartTime=%v, want zero", got.StartTime)
	}

	if err := store.WriteRun(ctx, &RunRecord{}); err == nil {
		t.Fatal("WriteRun(empty) error=nil, want id error")
	}
}

func TestSQLiteStoreRejectsInvalidCursor(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	for _, cursor := range []string{"%%%", encodeBytes("no-separator"), encodeBytes("not-a-time|id")} {
		if _, err := store.QueryRuns(context.Background(), RunFilter{Cursor: cursor}); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("QueryRuns(cursor=%q) error=%v, want ErrInvalidCursor", cursor, err)
		}
	}
}

func TestSQLiteStoreTestResults(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()
	for i, passed := range []bool{true, false, true} {
		record := &TestRecord{
			ID:           fmt.Sprintf("t-%d", i),
			Name:         "Trace Test",
			Passed:       passed,
			PassedChecks: 3,
			StartedAt:    baseTime,
			DurationMS:   1500,
			RecordedAt:   baseTime.Add(time.Duration(i) * time.Hour),
		}
		if err := store.WriteTestResult(ctx, record); err != nil {
			t.Fatalf("WriteTestResult() error: %v", err)
		}
	}

	passed := true
	result, err := store.QueryTestResults(ctx, TestFilter{Passed: &passed, Limit: 1})
	if err != nil {
		t.Fatalf("QueryTestResults() error: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ID != "t-2" || result.NextCursor == "" {
		t.Fatalf("first page=%+v cursor=%q, want t-2 with cursor", result.Items, result.NextCursor)
	}
	result, err = store.QueryTestResults(ctx, TestFilter{Passed: &passed, Cursor: result.NextCursor})
	if err != nil {
		t.Fatalf("QueryTestResults() error: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ID != "t-0" || result.NextCursor != "" {
		t.Fatalf("second page=%+v cursor=%q, want t-0 only", result.Items, result.NextCursor)
	}
	if !result.Items[0].Passed || result.Items[0].DurationMS != 1500 || !result.Items[0].StartedAt.Equal(baseTime) {
		t.Fatalf("record=%+v, want stored fields", result.Items[0])
	}

	if err := store.WriteTestResult(ctx, &TestRecord{ID: "t-0", Name: "dup"}); ClassifyWriteError(err) != WriteErrorClassConstraint {
		t.Fatalf("duplicate WriteTestResult() error=%v, want constraint class", err)
	}
	if err := store.WriteTestResult(ctx, &TestRecord{ID: "t-9"}); err == nil {
		t.Fatal("WriteTestResult(no name) error=nil, want validation error")
	}
}

func TestSQLiteStoreConcurrentWrites(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs <- store.WriteRun(ctx, &RunRecord{ID: fmt.Sprintf("c-%d", i)})
				return
			}
			errs <- store.WriteTestResult(ctx, &TestRecord{ID: fmt.Sprintf("c-%d", i), Name: "concurrent"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write error: %v", err)
		}
	}

	result, err := store.QueryRuns(ctx, RunFilter{Limit: MaxPageSize + 50})
	if err != nil {
		t.Fatalf("QueryRuns() error: %v", err)
	}
	if len(result.Items) != 10 {
		t.Fatalf("runs=%d, want 10", len(result.Items))
	}
}

func TestSQLiteStoreSummarizeRuns(t *testing.T) {
	t.Parallel()

	store := newSQLiteStore(t)
	runs := sampleRuns(4)
	runs[3].RunType = "llm"
	runs[3].Error = "rate limited"
	if err := store.WriteBatch(context.Background(), runs); err != nil {
		t.Fatalf("WriteBatch() error: %v", err)
	}

	got, err := store.SummarizeRuns(context.Background(), RunFilter{Cursor: "ignored"}, "run_type")
	if err != nil {
		t.Fatalf("SummarizeRuns() error: %v", err)
	}
	want := []RunStats{
		{Group: "chain", RunCount: 3, TotalTokens: 30, TotalCost: 0.75},
		{Group: "llm", RunCount: 1, ErrorCount: 1, TotalTokens: 30, TotalCost: 0.25},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("SummarizeRuns() mismatch (-want +got):\n%s", diff)
	}

	got, err = store.SummarizeRuns(context.Background(), RunFilter{TraceID: "trace-1"}, "trace_id")
	if err != nil {
		t.Fatalf("SummarizeRuns() error: %v", err)
	}
	if len(got) != 1 || got[0].RunCount != 2 {
		t.Fatalf("trace summary=%+v, want 2 runs for trace-1", got)
	}

	if _, err := store.SummarizeRuns(context.Background(), RunFilter{}, "payload"); err == nil {
		t.Fatal("expected unsupported group error")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open("mysql", "", ""); err == nil {
		t.Fatal("Open(mysql) error=nil, want unsupported driver")
	}
	if _, err := Open("postgres", "", " "); err == nil {
		t.Fatal("Open(postgres) error=nil, want empty dsn error")
	}
	store, err := Open("", filepath.Join(t.TempDir(), "a.db"), "")
	if err != nil {
		t.Fatalf("Open(default) error: %v", err)
	}
	_ = store.Close()
}

func TestPageSize(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{0: DefaultPageSize, -3: DefaultPageSize, 10: 10, 1000: MaxPageSize} {
		if got := pageSize(in); got != want {
			t.Fatalf("pageSize(%d)=%d, want %d", in, got, want)
		}
	}
}

func encodeBytes(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
