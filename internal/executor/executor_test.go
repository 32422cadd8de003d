package executor

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConnection() store.Connection {
	return store.Connection{ID: "conn-1", DBType: store.DBTypePostgres, Host: "db.local", Database: "northwind"}
}

func newMockExecutor(t *testing.T, maxRows int) (*Executor, sqlmock.Sqlmock, *int) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	opens := 0
	exec := New(maxRows, testLogger())
	exec.OpenDB = func(_ store.Connection) (*sql.DB, error) {
		opens++
		return db, nil
	}
	return exec, mock, &opens
}

func TestExecuteReturnsNormalizedRows(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, 500)
	mock.ExpectQuery("SELECT country, COUNT(*) FROM customers GROUP BY country").
		WillReturnRows(sqlmock.NewRows([]string{"country", "count"}).
			AddRow([]byte("Germany"), int64(11)).
			AddRow([]byte("France"), int64(9)))

	result, err := exec.Execute(context.Background(), testConnection(), "SELECT country, COUNT(*) FROM customers GROUP BY country", time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", result)
	}
	if result.Rows[0][0] != "Germany" {
		t.Fatalf("expected []byte normalized to string, got %T %v", result.Rows[0][0], result.Rows[0][0])
	}
	if result.Truncated {
		t.Fatalf("unexpected truncation")
	}
	if result.Duration <= 0 {
		t.Fatalf("expected positive duration")
	}
}

func TestExecuteTruncatesAtRowCap(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, 2)
	rows := sqlmock.NewRows([]string{"n"})
	for i := 0; i < 5; i++ {
		rows.AddRow(i)
	}
	mock.ExpectQuery("SELECT n FROM numbers").WillReturnRows(rows)

	result, err := exec.Execute(context.Background(), testConnection(), "SELECT n FROM numbers", time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.RowCount != 2 {
		t.Fatalf("expected row cap of 2, got %d", result.RowCount)
	}
	if !result.Truncated {
		t.Fatalf("expected truncation flag")
	}
}

func TestExecuteReusesPooledHandle(t *testing.T) {
	exec, mock, opens := newMockExecutor(t, 500)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	for i := 0; i < 2; i++ {
		if _, err := exec.Execute(context.Background(), testConnection(), "SELECT 1", time.Second); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	if *opens != 1 {
		t.Fatalf("expected a single dial, got %d", *opens)
	}
}

func TestExecuteMapsSyntaxError(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, 500)
	mock.ExpectQuery("SELEC 1").WillReturnError(&pgconn.PgError{Code: "42601", Message: "syntax error at or near \"SELEC\""})

	_, err := exec.Execute(context.Background(), testConnection(), "SELEC 1", time.Second)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %v", err)
	}
	if execErr.Kind != KindSyntaxError {
		t.Fatalf("expected syntax_error, got %q", execErr.Kind)
	}
}

func TestExecuteMapsPermissionDenied(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, 500)
	mock.ExpectQuery("SELECT * FROM secrets").WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied for table secrets"})

	_, err := exec.Execute(context.Background(), testConnection(), "SELECT * FROM secrets", time.Second)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %v", err)
	}
	if execErr.Kind != KindPermissionDenied {
		t.Fatalf("expected permission_denied, got %q", execErr.Kind)
	}
}

func TestExecuteMapsTimeout(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, 500)
	mock.ExpectQuery("SELECT pg_sleep(60)").WillReturnError(context.DeadlineExceeded)

	_, err := exec.Execute(context.Background(), testConnection(), "SELECT pg_sleep(60)", time.Second)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %v", err)
	}
	if execErr.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %q", execErr.Kind)
	}
}

func TestExecuteEvictsHandleOnLostConnection(t *testing.T) {
	exec, mock, opens := newMockExecutor(t, 500)
	mock.ExpectQuery("SELECT 1").WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	mock.ExpectClose()

	_, err := exec.Execute(context.Background(), testConnection(), "SELECT 1", time.Second)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %v", err)
	}
	if execErr.Kind != KindConnectionLost {
		t.Fatalf("expected connection_lost, got %q", execErr.Kind)
	}
	if *opens != 1 {
		t.Fatalf("expected one dial so far, got %d", *opens)
	}

	// The pooled handle was dropped, so the next execute dials again.
	if _, err := exec.Execute(context.Background(), testConnection(), "SELECT 1", time.Second); err == nil {
		t.Fatalf("expected second execute against closed mock to fail")
	}
	if *opens != 2 {
		t.Fatalf("expected redial after eviction, got %d dials", *opens)
	}
}

func TestClassifyFallsBackToMessageText(t *testing.T) {
	cases := map[string]Kind{
		"Parser Error: syntax error at or near \"FORM\"": KindSyntaxError,
		"dial tcp 10.0.0.1:5432: connection refused":     KindConnectionLost,
		"something odd happened":                         KindUnknown,
	}
	for msg, want := range cases {
		if got := classify(context.Background(), errors.New(msg)); got != want {
			t.Fatalf("classify(%q) = %q, want %q", msg, got, want)
		}
	}
}
