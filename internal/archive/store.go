// Package archive keeps a local record of exported LangSmith runs and
// harness test outcomes so they can be paged through offline.
package archive

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrNotFound = errors.New("archive record not found")
var ErrInvalidCursor = errors.New("archive cursor is invalid")

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Store interface {
	WriteRun(ctx context.Context, run *RunRecord) error
	WriteBatch(ctx context.Context, runs []*RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	QueryRuns(ctx context.Context, filter RunFilter) (*RunResult, error)
	WriteTestResult(ctx context.Context, result *TestRecord) error
	QueryTestResults(ctx context.Context, filter TestFilter) (*TestResult, error)
	SummarizeRuns(ctx context.Context, filter RunFilter, groupBy string) ([]RunStats, error)
	Close() error
}

// RunRecord is one archived run. Payload holds the run as exported.
type RunRecord struct {
	ID          string    `json:"id"`
	TraceID     string    `json:"trace_id"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Name        string    `json:"name"`
	RunType     string    `json:"run_type"`
	Status      string    `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	TotalTokens int64     `json:"total_tokens"`
	TotalCost   float64   `json:"total_cost"`
	Source      string    `json:"source"`
	Payload     string    `json:"-"`
	ExportedAt  time.Time `json:"exported_at"`
}

// TestRecord is the outcome of one harness test.
type TestRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Passed       bool      `json:"passed"`
	PassedChecks int       `json:"passed_checks"`
	FailedChecks int       `json:"failed_checks"`
	SummaryPath  string    `json:"summary_path,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	RecordedAt   time.Time `json:"recorded_at"`
}

type RunFilter struct {
	TraceID string
	RunType string
	Name    string
	Source  string
	From    time.Time
	To      time.Time
	Limit   int
	Cursor  string
}

type RunResult struct {
	Items      []*RunRecord
	NextCursor string
}

// RunStats aggregates archived runs sharing one group value.
type RunStats struct {
	Group       string  `json:"group"`
	RunCount    int64   `json:"run_count"`
	ErrorCount  int64   `json:"error_count"`
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// SummaryGroups lists the columns SummarizeRuns can group by.
var SummaryGroups = []string{"run_type", "name", "trace_id", "source"}

type TestFilter struct {
	Name   string
	Passed *bool
	From   time.Time
	To     time.Time
	Limit  int
	Cursor string
}

type TestResult struct {
	Items      []*TestRecord
	NextCursor string
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func encodeCursor(at time.Time, id string) string {
	if at.IsZero() || id == "" {
		return ""
	}
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	payload, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: decode base64 cursor", ErrInvalidCursor)
	}
	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return time.Time{}, "", fmt.Errorf("%w: missing id", ErrInvalidCursor)
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: parse timestamp", ErrInvalidCursor)
	}
	return at.UTC(), strings.TrimSpace(parts[1]), nil
}

// where accumulates filter clauses. placeholder renders the n-th bind
// parameter for the target driver.
type where struct {
	clauses     []string
	args        []any
	placeholder func(n int) string
	timeArg     func(time.Time) any
}

func (w *where) add(clause string, values ...any) {
	for _, v := range values {
		w.args = append(w.args, v)
		clause = strings.Replace(clause, "?", w.placeholder(len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *where) addTime(clause string, values ...time.Time) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = w.timeArg(v)
	}
	w.add(clause, args...)
}

func (w *where) cursor(column, cursor string) error {
	if strings.TrimSpace(cursor) == "" {
		return nil
	}
	at, id, err := decodeCursor(cursor)
	if err != nil {
		return err
	}
	w.add(fmt.Sprintf("(%[1]s < ? OR (%[1]s = ? AND id < ?))", column), w.timeArg(at), w.timeArg(at), id)
	return nil
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return "1=1"
	}
	return strings.Join(w.clauses, " AND ")
}

func buildRunWhere(filter RunFilter, w *where) error {
	if v := strings.TrimSpace(filter.TraceID); v != "" {
		w.add("trace_id = ?", v)
	}
	if v := strings.TrimSpace(filter.RunType); v != "" {
		w.add("run_type = ?", v)
	}
	if v := strings.TrimSpace(filter.Name); v != "" {
		w.add("name = ?", v)
	}
	if v := strings.TrimSpace(filter.Source); v != "" {
		w.add("source = ?", v)
	}
	if !filter.From.IsZero() {
		w.addTime("exported_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		w.addTime("exported_at <= ?", filter.To)
	}
	return w.cursor("exported_at", filter.Cursor)
}

// summarizeRuns runs the grouped aggregate shared by both drivers. The
// filter cursor is ignored.
func summarizeRuns(ctx context.Context, db *sql.DB, w *where, filter RunFilter, groupBy string) ([]RunStats, error) {
	if !slices.Contains(SummaryGroups, groupBy) {
		return nil, fmt.Errorf("unsupported summary group %q", groupBy)
	}
	filter.Cursor = ""
	if err := buildRunWhere(filter, w); err != nil {
		return nil, err
	}

	query := `
SELECT
	` + groupBy + `,
	COUNT(*) AS run_count,
	COALESCE(SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END), 0),
	CAST(COALESCE(SUM(total_tokens), 0) AS BIGINT),
	COALESCE(SUM(total_cost), 0)
FROM archived_runs
WHERE ` + w.sql() + `
GROUP BY ` + groupBy + `
ORDER BY run_count DESC, ` + groupBy + ` ASC
`
	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query run summary: %w", err)
	}
	defer rows.Close()

	stats := make([]RunStats, 0)
	for rows.Next() {
		var item RunStats
		if err := rows.Scan(&item.Group, &item.RunCount, &item.ErrorCount, &item.TotalTokens, &item.TotalCost); err != nil {
			return nil, fmt.Errorf("scan run summary row: %w", err)
		}
		stats = append(stats, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run summary rows: %w", err)
	}
	return stats, nil
}

func buildTestWhere(filter TestFilter, w *where) error {
	if v := strings.TrimSpace(filter.Name); v != "" {
		w.add("name = ?", v)
	}
	if filter.Passed != nil {
		w.add("passed = ?", *filter.Passed)
	}
	if !filter.From.IsZero() {
		w.addTime("recorded_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		w.addTime("recorded_at <= ?", filter.To)
	}
	return w.cursor("recorded_at", filter.Cursor)
}

func normalizeRun(in *RunRecord, now time.Time) *RunRecord {
	row := *in
	if row.TraceID == "" {
		row.TraceID = row.ID
	}
	if row.Payload == "" {
		row.Payload = "{}"
	}
	if row.ExportedAt.IsZero() {
		row.ExportedAt = now
	}
	// Postgres stores microseconds and cursors compare exact timestamps.
	row.ExportedAt = row.ExportedAt.UTC().Truncate(time.Microsecond)
	row.StartTime = row.StartTime.UTC().Truncate(time.Microsecond)
	row.EndTime = row.EndTime.UTC().Truncate(time.Microsecond)
	return &row
}

func normalizeTest(in *TestRecord, now time.Time) *TestRecord {
	row := *in
	if row.RecordedAt.IsZero() {
		row.RecordedAt = now
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = row.RecordedAt
	}
	row.RecordedAt = row.RecordedAt.UTC().Truncate(time.Microsecond)
	row.StartedAt = row.StartedAt.UTC().Truncate(time.Microsecond)
	return &row
}

func validateRun(run *RunRecord) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("archived run requires an id")
	}
	return nil
}

func validateTest(result *TestRecord) error {
	if result == nil || strings.TrimSpace(result.ID) == "" {
		return fmt.Errorf("test result requires an id")
	}
	if strings.TrimSpace(result.Name) == "" {
		return fmt.Errorf("test result %q requires a name", result.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Open returns the store for driver ("sqlite" or "postgres").
func Open(driver, path, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}
}
