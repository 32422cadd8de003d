// Package executor runs validated SQL against a user-registered target
// database under a hard timeout and a row cap. Execution is always fresh
// and never retried: a failed statement is terminal for its request.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
	"github.com/arkwith7/text-to-sql-sub000/internal/target"
)

// Kind is the fixed taxonomy native driver failures are mapped into.
type Kind string

const (
	KindSyntaxError      Kind = "syntax_error"
	KindPermissionDenied Kind = "permission_denied"
	KindTimeout          Kind = "timeout"
	KindConnectionLost   Kind = "connection_lost"
	KindUnknown          Kind = "unknown"
)

type ExecError struct {
	Kind Kind
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

type Result struct {
	Columns   []string
	Rows      [][]any
	RowCount  int
	Duration  time.Duration
	Truncated bool
}

// Executor pools one handle per connection id. Handles are dropped from the
// pool when a statement fails with a lost connection so the next request
// dials fresh.
type Executor struct {
	MaxRows int
	Logger  *slog.Logger

	// OpenDB is swappable for tests; defaults to target.Open.
	OpenDB func(conn store.Connection) (*sql.DB, error)

	mu   sync.Mutex
	pool map[string]*sql.DB
}

func New(maxRows int, logger *slog.Logger) *Executor {
	if maxRows <= 0 {
		maxRows = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		MaxRows: maxRows,
		Logger:  logger,
		OpenDB:  target.Open,
		pool:    make(map[string]*sql.DB),
	}
}

// Execute runs the validated statement. The timeout is a hard bound for the
// whole round trip.
func (e *Executor) Execute(ctx context.Context, conn store.Connection, sqlText string, timeout time.Duration) (Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return Result{}, &ExecError{Kind: KindUnknown, Err: fmt.Errorf("sql is required")}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	db, err := e.handle(conn)
	if err != nil {
		return Result{}, &ExecError{Kind: KindConnectionLost, Err: err}
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, e.mapError(ctx, conn.ID, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, e.mapError(ctx, conn.ID, err)
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if len(resultRows) >= e.MaxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, e.mapError(ctx, conn.ID, err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, e.mapError(ctx, conn.ID, err)
	}

	return Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Duration:  time.Since(start),
		Truncated: truncated,
	}, nil
}

// Close releases every pooled handle.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for id, db := range e.pool {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.pool, id)
	}
	return firstErr
}

func (e *Executor) handle(conn store.Connection) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if db, ok := e.pool[conn.ID]; ok {
		return db, nil
	}
	db, err := e.OpenDB(conn)
	if err != nil {
		return nil, err
	}
	e.pool[conn.ID] = db
	return db, nil
}

func (e *Executor) evict(connectionID string) {
	e.mu.Lock()
	db, ok := e.pool[connectionID]
	delete(e.pool, connectionID)
	e.mu.Unlock()
	if ok {
		_ = db.Close()
	}
}

func (e *Executor) mapError(ctx context.Context, connectionID string, err error) *ExecError {
	kind := classify(ctx, err)
	if kind == KindConnectionLost {
		e.evict(connectionID)
	}
	e.Logger.Warn("query execution failed", "connection_id", connectionID, "kind", string(kind), "error", err)
	return &ExecError{Kind: kind, Err: err}
}

func classify(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014":
			// query_canceled, typically statement_timeout on the server.
			return KindTimeout
		case pgErr.Code == "42501":
			return KindPermissionDenied
		case strings.HasPrefix(pgErr.Code, "28"):
			return KindPermissionDenied
		case strings.HasPrefix(pgErr.Code, "42"):
			return KindSyntaxError
		case strings.HasPrefix(pgErr.Code, "08"):
			return KindConnectionLost
		}
		return KindUnknown
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindConnectionLost
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectionLost
	}

	// Driver-agnostic fallbacks for engines that report errors as plain
	// strings, duckdb among them.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"):
		return KindSyntaxError
	case strings.Contains(msg, "permission denied"):
		return KindPermissionDenied
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return KindConnectionLost
	}
	return KindUnknown
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
