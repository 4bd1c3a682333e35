package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ongoingai/smithkit/migrations"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	DSN string
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	store := &PostgresStore{DSN: dsn, db: db, now: time.Now}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) configure() error {
	s.db.SetMaxOpenConns(10)
	s.db.SetMaxIdleConns(5)
	s.db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const postgresUpsertRun = `
INSERT INTO archived_runs (
    id, trace_id, parent_run_id, session_id, name, run_type, status, error,
    start_time, end_time, total_tokens, total_cost, source, payload, exported_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15)
ON CONFLICT (id) DO UPDATE SET
    trace_id = EXCLUDED.trace_id,
    parent_run_id = EXCLUDED.parent_run_id,
    session_id = EXCLUDED.session_id,
    name = EXCLUDED.name,
    run_type = EXCLUDED.run_type,
    status = EXCLUDED.status,
    error = EXCLUDED.error,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    total_tokens = EXCLUDED.total_tokens,
    total_cost = EXCLUDED.total_cost,
    source = EXCLUDED.source,
    payload = EXCLUDED.payload,
    exported_at = EXCLUDED.exported_at`

func postgresRunArgs(row *RunRecord) []any {
	return []any{
		row.ID, row.TraceID, row.ParentRunID, row.SessionID, row.Name, row.RunType, row.Status, row.Error,
		nullTime(row.StartTime), nullTime(row.EndTime),
		row.TotalTokens, row.TotalCost, row.Source, row.Payload, row.ExportedAt,
	}
}

func (s *PostgresStore) WriteRun(ctx context.Context, run *RunRecord) error {
	if err := validateRun(run); err != nil {
		return err
	}
	row := normalizeRun(run, s.now())
	if _, err := s.db.ExecContext(ctx, postgresUpsertRun, postgresRunArgs(row)...); err != nil {
		return fmt.Errorf("write run %q: %w", row.ID, err)
	}
	return nil
}

func (s *PostgresStore) WriteBatch(ctx context.Context, runs []*RunRecord) error {
	if len(runs) == 0 {
		return nil
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin postgres batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, postgresUpsertRun)
	if err != nil {
		return fmt.Errorf("prepare postgres batch insert: %w", err)
	}
	defer stmt.Close()

	for _, run := range runs {
		if run == nil {
			continue
		}
		if err := validateRun(run); err != nil {
			return err
		}
		row := normalizeRun(run, now)
		if _, err := stmt.ExecContext(ctx, postgresRunArgs(row)...); err != nil {
			return fmt.Errorf("write run %q in batch: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit postgres batch transaction: %w", err)
	}
	return nil
}

const postgresRunSelectColumns = `id, trace_id, parent_run_id, session_id, name, run_type, status, error,
start_time, end_time, total_tokens, total_cost, source, payload::text, exported_at`

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postgresRunSelectColumns+" FROM archived_runs WHERE id = $1 LIMIT 1", id)
	run, err := scanPostgresRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run %q: %w", id, err)
	}
	return run, nil
}

func (s *PostgresStore) QueryRuns(ctx context.Context, filter RunFilter) (*RunResult, error) {
	limit := pageSize(filter.Limit)
	w := postgresWhere()
	if err := buildRunWhere(filter, w); err != nil {
		return nil, err
	}
	args := append(w.args, limit+1)

	query := "SELECT " + postgresRunSelectColumns + " FROM archived_runs WHERE " + w.sql() +
		" ORDER BY exported_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	items := make([]*RunRecord, 0, limit+1)
	for rows.Next() {
		run, err := scanPostgresRun(rows)
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

func (s *PostgresStore) SummarizeRuns(ctx context.Context, filter RunFilter, groupBy string) ([]RunStats, error) {
	return summarizeRuns(ctx, s.db, postgresWhere(), filter, groupBy)
}

func (s *PostgresStore) WriteTestResult(ctx context.Context, result *TestRecord) error {
	if err := validateTest(result); err != nil {
		return err
	}
	row := normalizeTest(result, s.now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO test_results (
    id, name, passed, passed_checks, failed_checks, summary_path, error, started_at, duration_ms, recorded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.ID, row.Name, row.Passed, row.PassedChecks, row.FailedChecks, row.SummaryPath, row.Error,
		row.StartedAt, row.DurationMS, row.RecordedAt,
	)
	if err != nil {
		if isPostgresUniqueViolation(err) {
			return fmt.Errorf("write test result %q: duplicate id: %w", row.ID, err)
		}
		return fmt.Errorf("write test result %q: %w", row.ID, err)
	}
	return nil
}

func (s *PostgresStore) QueryTestResults(ctx context.Context, filter TestFilter) (*TestResult, error) {
	limit := pageSize(filter.Limit)
	w := postgresWhere()
	if err := buildTestWhere(filter, w); err != nil {
		return nil, err
	}
	args := append(w.args, limit+1)

	query := "SELECT " + testSelectColumns + " FROM test_results WHERE " + w.sql() +
		" ORDER BY recorded_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query test results: %w", err)
	}
	defer rows.Close()

	items := make([]*TestRecord, 0, limit+1)
	for rows.Next() {
		var item TestRecord
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Passed, &item.PassedChecks, &item.FailedChecks, &item.SummaryPath, &item.Error,
			&item.StartedAt, &item.DurationMS, &item.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan test result row: %w", err)
		}
		item.StartedAt = item.StartedAt.UTC()
		item.RecordedAt = item.RecordedAt.UTC()
		items = append(items, &item)
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

func postgresWhere() *where {
	return &where{
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		timeArg:     func(t time.Time) any { return t.UTC() },
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func scanPostgresRun(scanner rowScanner) (*RunRecord, error) {
	var item RunRecord
	var start, end sql.NullTime
	if err := scanner.Scan(
		&item.ID, &item.TraceID, &item.ParentRunID, &item.SessionID, &item.Name, &item.RunType, &item.Status, &item.Error,
		&start, &end, &item.TotalTokens, &item.TotalCost, &item.Source, &item.Payload, &item.ExportedAt,
	); err != nil {
		return nil, err
	}
	if start.Valid {
		item.StartTime = start.Time.UTC()
	}
	if end.Valid {
		item.EndTime = end.Time.UTC()
	}
	item.ExportedAt = item.ExportedAt.UTC()
	return &item, nil
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
