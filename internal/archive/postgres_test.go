package archive

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("SMITHKIT_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("SMITHKIT_TEST_POSTGRES_DSN is not set")
	}
	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestPostgresStoreRunsAndTests(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	// Unique ids keep repeated runs against a shared database independent.
	prefix := uuid.NewString()[:8]
	runs := sampleRuns(3)
	for _, run := range runs {
		run.ID = prefix + "-" + run.ID
		run.TraceID = prefix
	}
	if err := store.WriteBatch(ctx, runs); err != nil {
		t.Fatalf("WriteBatch() error: %v", err)
	}

	result, err := store.QueryRuns(ctx, RunFilter{TraceID: prefix, Limit: 2})
	if err != nil {
		t.Fatalf("QueryRuns() error: %v", err)
	}
	if len(result.Items) != 2 || result.Items[0].ID != runs[2].ID || result.NextCursor == "" {
		t.Fatalf("page=%v cursor=%q, want newest two with cursor", runIDs(result.Items), result.NextCursor)
	}
	result, err = store.QueryRuns(ctx, RunFilter{TraceID: prefix, Cursor: result.NextCursor})
	if err != nil {
		t.Fatalf("QueryRuns(cursor) error: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].ID != runs[0].ID {
		t.Fatalf("second page=%v, want oldest run", runIDs(result.Items))
	}

	got, err := store.GetRun(ctx, runs[1].ID)
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if !got.StartTime.Equal(runs[1].StartTime) || !got.EndTime.IsZero() || got.Payload == "" {
		t.Fatalf("run=%+v, want stored times and payload", got)
	}
	if _, err := store.GetRun(ctx, prefix+"-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun(missing) error=%v, want ErrNotFound", err)
	}

	name := "pg-" + prefix
	record := &TestRecord{ID: uuid.NewString(), Name: name, Passed: true, RecordedAt: time.Now()}
	if err := store.WriteTestResult(ctx, record); err != nil {
		t.Fatalf("WriteTestResult() error: %v", err)
	}
	if err := store.WriteTestResult(ctx, record); ClassifyWriteError(err) != WriteErrorClassConstraint {
		t.Fatalf("duplicate WriteTestResult() error=%v, want constraint class", err)
	}
	tests, err := store.QueryTestResults(ctx, TestFilter{Name: name})
	if err != nil {
		t.Fatalf("QueryTestResults() error: %v", err)
	}
	if len(tests.Items) != 1 || !tests.Items[0].Passed {
		t.Fatalf("tests=%+v, want one passing record", tests.Items)
	}
}
