package archive

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Write failure classes reported to the Writer's failure handler and the
// archive write failure counter.
const (
	WriteErrorClassConnection = "connection"
	WriteErrorClassTimeout    = "timeout"
	WriteErrorClassContention = "contention"
	WriteErrorClassConstraint = "constraint"
	WriteErrorClassUnknown    = "unknown"
)

// ClassifyWriteError maps an archive write error to one of the write
// failure classes.
func ClassifyWriteError(err error) string {
	if err == nil {
		return WriteErrorClassUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WriteErrorClassTimeout
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WriteErrorClassTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return WriteErrorClassConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return WriteErrorClassConnection
	}

	// Driver errors often arrive wrapped as plain text.
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection refused", "broken pipe", "no such host", "database is closed"):
		return WriteErrorClassConnection
	case containsAny(msg, "timeout", "deadline exceeded"):
		return WriteErrorClassTimeout
	case containsAny(msg, "sqlite_busy", "database is locked"):
		return WriteErrorClassContention
	case containsAny(msg, "unique constraint", "check constraint", "not null constraint", "duplicate key", "violates foreign key constraint"):
		return WriteErrorClassConstraint
	}
	return WriteErrorClassUnknown
}

// classifySQLState maps a Postgres SQLSTATE code to a write failure class.
func classifySQLState(code string) string {
	switch {
	case strings.HasPrefix(code, "08"), code == "57P01":
		return WriteErrorClassConnection
	case code == "57014":
		return WriteErrorClassTimeout
	case code == "40001", code == "40P01", code == "55P03":
		return WriteErrorClassContention
	case strings.HasPrefix(code, "23"):
		return WriteErrorClassConstraint
	}
	return WriteErrorClassUnknown
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
