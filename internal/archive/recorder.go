package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ongoingai/smithkit/internal/harness"
	"github.com/ongoingai/smithkit/internal/langsmith"
)

// FromRun converts an exported run into an archive record.
func FromRun(run langsmith.Run, source string, exportedAt time.Time) (*RunRecord, error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encode run %q: %w", run.ID, err)
	}
	record := &RunRecord{
		ID:          run.ID,
		TraceID:     run.TraceKey(),
		ParentRunID: run.ParentID(),
		SessionID:   run.SessionID,
		Name:        run.Name,
		RunType:     run.RunType,
		Status:      run.Status,
		StartTime:   run.StartedAt(),
		Source:      source,
		Payload:     string(payload),
		ExportedAt:  exportedAt,
	}
	if run.EndTime != nil {
		record.EndTime = run.EndTime.Time
	}
	if run.Error != nil {
		record.Error = *run.Error
	}
	if run.TotalTokens != nil {
		record.TotalTokens = *run.TotalTokens
	}
	if run.TotalCost != nil {
		record.TotalCost = float64(*run.TotalCost)
	}
	return record, nil
}

// RunArchiver feeds exported runs to a Writer.
type RunArchiver struct {
	Writer *Writer
	Logger *slog.Logger
	Now    func() time.Time
}

func (a *RunArchiver) ArchiveRuns(source string, runs []langsmith.Run) {
	if a == nil || a.Writer == nil {
		return
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	exportedAt := now()
	dropped := 0
	for _, run := range runs {
		record, err := FromRun(run, source, exportedAt)
		if err != nil {
			a.logger().Warn("archive run skipped", "run_id", run.ID, "error", err)
			continue
		}
		if !a.Writer.Enqueue(record) {
			dropped++
		}
	}
	if dropped > 0 {
		a.logger().Warn("archive queue full; runs dropped", "source", source, "dropped", dropped)
	}
}

func (a *RunArchiver) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// TestRecorder stores harness results synchronously.
type TestRecorder struct {
	Store Store
	NewID func() string
}

func (r *TestRecorder) RecordTest(ctx context.Context, result harness.Result) error {
	if r == nil || r.Store == nil {
		return nil
	}
	newID := uuid.NewString
	if r.NewID != nil {
		newID = r.NewID
	}
	record := &TestRecord{
		ID:           newID(),
		Name:         result.Test,
		Passed:       result.OK(),
		PassedChecks: len(result.Passed),
		FailedChecks: len(result.Failed),
		SummaryPath:  result.SummaryPath,
		StartedAt:    result.StartedAt,
		DurationMS:   result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		record.Error = result.Err.Error()
	}
	return r.Store.WriteTestResult(ctx, record)
}
