package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ongoingai/smithkit/migrations"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows one writer at a time; the export writer and the harness
	// recorder share the store.
	writeMu sync.Mutex
	now     func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{Path: path, db: db, now: time.Now}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for schema inspection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

const sqliteUpsertRun = `
INSERT INTO archived_runs (
    id, trace_id, parent_run_id, session_id, name, run_type, status, error,
    start_time, end_time, total_tokens, total_cost, source, payload, exported_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    trace_id = excluded.trace_id,
    parent_run_id = excluded.parent_run_id,
    session_id = excluded.session_id,
    name = excluded.name,
    run_type = excluded.run_type,
    status = excluded.status,
    error = excluded.error,
    start_time = excluded.start_time,
    end_time = excluded.end_time,
    total_tokens = excluded.total_tokens,
    total_cost = excluded.total_cost,
    source = excluded.source,
    payload = excluded.payload,
    exported_at = excluded.exported_at`

func sqliteRunArgs(row *RunRecord) []any {
	return []any{
		row.ID, row.TraceID, row.ParentRunID, row.SessionID, row.Name, row.RunType, row.Status, row.Error,
		formatSQLiteTime(row.StartTime), formatSQLiteTime(row.EndTime),
		row.TotalTokens, row.TotalCost, row.Source, row.Payload, formatSQLiteTime(row.ExportedAt),
	}
}

func (s *SQLiteStore) WriteRun(ctx context.Context, run *RunRecord) error {
	if err := validateRun(run); err != nil {
		return err
	}
	row := normalizeRun(run, s.now())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return retrySQLiteBusy(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, sqliteUpsertRun, sqliteRunArgs(row)...); err != nil {
			return fmt.Errorf("write run %q: %w", row.ID, err)
		}
		return nil
	})
}

func (s *SQLiteStore) WriteBatch(ctx context.Context, runs []*RunRecord) error {
	if len(runs) == 0 {
		return nil
	}
	now := s.now()
	rows := make([]*RunRecord, 0, len(runs))
	for _, run := range runs {
		if run == nil {
			continue
		}
		if err := validateRun(run); err != nil {
			return err
		}
		rows = append(rows, normalizeRun(run, now))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retrySQLiteBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sqlite batch transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, sqliteUpsertRun)
		if err != nil {
			return fmt.Errorf("prepare sqlite batch insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, sqliteRunArgs(row)...); err != nil {
				return fmt.Errorf("write run %q in batch: %w", row.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sqlite batch transaction: %w", err)
		}
		return nil
	})
}

const runSelectColumns = `id, trace_id, parent_run_id, session_id, name, run_type, status, error,
start_time, end_time, total_tokens, total_cost, source, payload, exported_at`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runSelectColumns+" FROM archived_runs WHERE id = ? LIMIT 1", id)
	run, err := scanSQLiteRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run %q: %w", id, err)
	}
	return run, nil
}

func (s *SQLiteStore) QueryRuns(ctx context.Context, filter RunFilter) (*RunResult, error) {
	limit := pageSize(filter.Limit)
	w := sqliteWhere()
	if err := buildRunWhere(filter, w); err != nil {
		return nil, err
	}
	args := append(w.args, limit+1)

	query := "SELECT " + runSelectColumns + " FROM archived_runs WHERE " + w.sql() + " ORDER BY exported_at DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	items := make([]*RunRecord, 0, limit+1)
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		items = append(items, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	result := &RunResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		last := result.Items[limit-1]
		result.NextCursor = encodeCursor(last.ExportedAt, last.ID)
	}
	return result, nil
}

func (s *SQLiteStore) SummarizeRuns(ctx context.Context, filter RunFilter, groupBy string) ([]RunStats, error) {
	return summarizeRuns(ctx, s.db, sqliteWhere(), filter, groupBy)
}

func (s *SQLiteStore) WriteTestResult(ctx context.Context, result *TestRecord) error {
	if err := validateTest(result); err != nil {
		return err
	}
	row := normalizeTest(result, s.now())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO test_results (
    id, name, passed, passed_checks, failed_checks, summary_path, error, started_at, duration_ms, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.Name, row.Passed, row.PassedChecks, row.FailedChecks, row.SummaryPath, row.Error,
			formatSQLiteTime(row.StartedAt), row.DurationMS, formatSQLiteTime(row.RecordedAt),
		)
		if err != nil {
			return fmt.Errorf("write test result %q: %w", row.ID, err)
		}
		return nil
	})
}

const testSelectColumns = `id, name, passed, passed_checks, failed_checks, summary_path, error, started_at, duration_ms, recorded_at`

func (s *SQLiteStore) QueryTestResults(ctx context.Context, filter TestFilter) (*TestResult, error) {
	limit := pageSize(filter.Limit)
	w := sqliteWhere()
	if err := buildTestWhere(filter, w); err != nil {
		return nil, err
	}
	args := append(w.args, limit+1)

	query := "SELECT " + testSelectColumns + " FROM test_results WHERE " + w.sql() + " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query test results: %w", err)
	}
	defer rows.Close()

	items := make([]*TestRecord, 0, limit+1)
	for rows.Next() {
		item, err := scanSQLiteTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test result row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test result rows: %w", err)
	}

	result := &TestResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		last := result.Items[limit-1]
		result.NextCursor = encodeCursor(last.RecordedAt, last.ID)
	}
	return result, nil
}

func sqliteWhere() *where {
	return &where{
		placeholder: func(int) string { return "?" },
		timeArg:     func(t time.Time) any { return formatSQLiteTime(t) },
	}
}

func formatSQLiteTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func scanSQLiteRun(scanner rowScanner) (*RunRecord, error) {
	var item RunRecord
	var startText, endText, exportedText string
	if err := scanner.Scan(
		&item.ID, &item.TraceID, &item.ParentRunID, &item.SessionID, &item.Name, &item.RunType, &item.Status, &item.Error,
		&startText, &endText, &item.TotalTokens, &item.TotalCost, &item.Source, &item.Payload, &exportedText,
	); err != nil {
		return nil, err
	}
	var err error
	if item.StartTime, err = parseSQLiteTimestamp(startText); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if item.EndTime, err = parseSQLiteTimestamp(endText); err != nil {
		return nil, fmt.Errorf("parse end_time: %w", err)
	}
	if item.ExportedAt, err = parseSQLiteTimestamp(exportedText); err != nil {
		return nil, fmt.Errorf("parse exported_at: %w", err)
	}
	return &item, nil
}

func scanSQLiteTest(scanner rowScanner) (*TestRecord, error) {
	var item TestRecord
	var passed int64
	var startedText, recordedText string
	if err := scanner.Scan(
		&item.ID, &item.Name, &passed, &item.PassedChecks, &item.FailedChecks, &item.SummaryPath, &item.Error,
		&startedText, &item.DurationMS, &recordedText,
	); err != nil {
		return nil, err
	}
	item.Passed = passed != 0
	var err error
	if item.StartedAt, err = parseSQLiteTimestamp(startedText); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if item.RecordedAt, err = parseSQLiteTimestamp(recordedText); err != nil {
		return nil, fmt.Errorf("parse recorded_at: %w", err)
	}
	return &item, nil
}

func parseSQLiteTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	for _, layout := range []string{"2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05.999999999"} {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported sqlite datetime format %q", value)
}

const (
	sqliteBusyMaxRetries     = 12
	sqliteBusyInitialBackoff = 5 * time.Millisecond
	sqliteBusyMaxBackoff     = 250 * time.Millisecond
)

// retrySQLiteBusy retries fn while SQLite reports lock contention, backing
// off exponentially up to sqliteBusyMaxBackoff.
func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		wait := sqliteBusyInitialBackoff << retries
		if wait > sqliteBusyMaxBackoff {
			wait = sqliteBusyMaxBackoff
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "sqlite_busy") || strings.Contains(value, "database is locked")
}
