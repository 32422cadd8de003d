package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping metadata db: %w", err)
	}
	return nil
}

func (r *Repository) GetConnection(ctx context.Context, id string) (store.Connection, error) {
	query := `
SELECT connection_id, name, db_type, host, port, username, password, database_name,
       status, COALESCE(last_error, ''), owner_id, created_at, updated_at
FROM connection
WHERE connection_id = $1`

	var conn store.Connection
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conn.ID,
		&conn.Name,
		&conn.DBType,
		&conn.Host,
		&conn.Port,
		&conn.Username,
		&conn.Password,
		&conn.Database,
		&conn.Status,
		&conn.LastError,
		&conn.OwnerID,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Connection{}, store.ErrNotFound
	}
	if err != nil {
		return store.Connection{}, fmt.Errorf("get connection: %w", err)
	}
	return conn, nil
}

func (r *Repository) ListConnections(ctx context.Context, ownerID string) ([]store.Connection, error) {
	query := `
SELECT connection_id, name, db_type, host, port, username, password, database_name,
       status, COALESCE(last_error, ''), owner_id, created_at, updated_at
FROM connection
WHERE owner_id = $1
ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var connections []store.Connection
	for rows.Next() {
		var conn store.Connection
		if err := rows.Scan(
			&conn.ID,
			&conn.Name,
			&conn.DBType,
			&conn.Host,
			&conn.Port,
			&conn.Username,
			&conn.Password,
			&conn.Database,
			&conn.Status,
			&conn.LastError,
			&conn.OwnerID,
			&conn.CreatedAt,
			&conn.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return connections, nil
}

func (r *Repository) SetStatus(ctx context.Context, id string, status store.ConnectionStatus, lastError string) error {
	query := `
UPDATE connection
SET status = $2, last_error = NULLIF($3, ''), updated_at = NOW()
WHERE connection_id = $1`

	result, err := r.db.ExecContext(ctx, query, id, string(status), lastError)
	if err != nil {
		return fmt.Errorf("set connection status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set connection status rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) AppendMessage(ctx context.Context, in store.AppendMessageInput) (store.ChatMessage, error) {
	query := `
INSERT INTO chat_message (session_id, role, content, sql_query)
VALUES ($1, $2, $3, NULLIF($4, ''))
RETURNING message_id, created_at`

	var id int64
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, in.SessionID, in.Role, in.Content, in.SQLQuery).Scan(&id, &createdAt); err != nil {
		return store.ChatMessage{}, fmt.Errorf("append chat message: %w", err)
	}
	return store.ChatMessage{
		ID:        id,
		SessionID: in.SessionID,
		Role:      in.Role,
		Content:   in.Content,
		SQLQuery:  in.SQLQuery,
		CreatedAt: createdAt,
	}, nil
}

func (r *Repository) ListMessages(ctx context.Context, sessionID string, limit int) ([]store.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT message_id, session_id, role, content, COALESCE(sql_query, ''), created_at
FROM chat_message
WHERE session_id = $1
ORDER BY message_id DESC
LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []store.ChatMessage
	for rows.Next() {
		var msg store.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.SQLQuery, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return messages, nil
}
