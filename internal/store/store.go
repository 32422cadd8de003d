package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusTesting      ConnectionStatus = "testing"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

type DBType string

const (
	DBTypePostgres DBType = "postgresql"
	DBTypeDuckDB   DBType = "duckdb"
)

// Connection describes one user-registered target database. Password is a
// secret: it is carried for dialing and must never appear in logs or responses.
type Connection struct {
	ID        string
	Name      string
	DBType    DBType
	Host      string
	Port      int
	Username  string
	Password  string
	Database  string
	Status    ConnectionStatus
	LastError string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	SQLQuery  string    `json:"sql_query,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AppendMessageInput struct {
	SessionID string
	Role      string
	Content   string
	SQLQuery  string
}

// ConnectionStore is the narrow surface the pipeline consumes. Connection
// CRUD beyond status updates belongs to the admin tooling, not to this service.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (Connection, error)
	ListConnections(ctx context.Context, ownerID string) ([]Connection, error)
	SetStatus(ctx context.Context, id string, status ConnectionStatus, lastError string) error
}

type ChatStore interface {
	AppendMessage(ctx context.Context, in AppendMessageInput) (ChatMessage, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)
}

type Store interface {
	ConnectionStore
	ChatStore
	HealthCheck(ctx context.Context) error
}
