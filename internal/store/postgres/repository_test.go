package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

func TestGetConnection(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT connection_id, name, db_type, host, port, username, password, database_name,
       status, COALESCE(last_error, ''), owner_id, created_at, updated_at
FROM connection
WHERE connection_id = $1`)).
		WithArgs("conn-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"connection_id", "name", "db_type", "host", "port", "username", "password",
			"database_name", "status", "last_error", "owner_id", "created_at", "updated_at",
		}).AddRow("conn-1", "Northwind", "postgresql", "db.internal", 5432, "reader", "secret",
			"northwind", "connected", "", "user-1", now, now))

	conn, err := repo.GetConnection(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	if conn.Name != "Northwind" {
		t.Fatalf("Name = %q", conn.Name)
	}
	if conn.DBType != store.DBTypePostgres {
		t.Fatalf("DBType = %q", conn.DBType)
	}
	if conn.Status != store.StatusConnected {
		t.Fatalf("Status = %q", conn.Status)
	}
	assertSQLMock(t, mock)
}

func TestGetConnectionReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery("SELECT connection_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetConnection(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, store.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestSetStatusUpdatesRow(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE connection
SET status = $2, last_error = NULLIF($3, ''), updated_at = NOW()
WHERE connection_id = $1`)).
		WithArgs("conn-1", "error", "connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetStatus(context.Background(), "conn-1", store.StatusError, "connection refused")
	if err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestSetStatusUnknownConnection(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec("UPDATE connection").
		WithArgs("missing", "testing", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetStatus(context.Background(), "missing", store.StatusTesting, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, store.ErrNotFound)
	}
	assertSQLMock(t, mock)
}

func TestAppendMessage(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO chat_message (session_id, role, content, sql_query)
VALUES ($1, $2, $3, NULLIF($4, ''))
RETURNING message_id, created_at`)).
		WithArgs("session-1", "assistant", "8 rows returned", "SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "created_at"}).AddRow(int64(12), now))

	msg, err := repo.AppendMessage(context.Background(), store.AppendMessageInput{
		SessionID: "session-1",
		Role:      "assistant",
		Content:   "8 rows returned",
		SQLQuery:  "SELECT 1",
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if msg.ID != 12 {
		t.Fatalf("ID = %d", msg.ID)
	}
	if !msg.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v", msg.CreatedAt)
	}
	assertSQLMock(t, mock)
}

func TestListMessagesAppliesDefaultLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT message_id, session_id").
		WithArgs("session-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "session_id", "role", "content", "sql_query", "created_at"}).
			AddRow(int64(2), "session-1", "user", "question", "", now).
			AddRow(int64(1), "session-1", "assistant", "answer", "SELECT 1", now))

	messages, err := repo.ListMessages(context.Background(), "session-1", 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d", len(messages))
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
