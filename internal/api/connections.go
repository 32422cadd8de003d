package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/auth"
	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

// connectionView is the externally visible shape of a connection. It never
// carries credentials.
type connectionView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DBType    string    `json:"db_type"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Database  string    `json:"database"`
	Status    string    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toConnectionView(conn store.Connection) connectionView {
	return connectionView{
		ID:        conn.ID,
		Name:      conn.Name,
		DBType:    string(conn.DBType),
		Host:      conn.Host,
		Port:      conn.Port,
		Database:  conn.Database,
		Status:    string(conn.Status),
		LastError: conn.LastError,
		UpdatedAt: conn.UpdatedAt,
	}
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection store is not configured", false, nil)
		return
	}
	ownerID := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		ownerID = identity.UserID
	}
	connections, err := deps.Connections.ListConnections(r.Context(), ownerID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list connections", true, nil)
		return
	}
	views := make([]connectionView, 0, len(connections))
	for _, conn := range connections {
		views = append(views, toConnectionView(conn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": views})
}

func handleConnectionSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connections == nil || deps.Resolver == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	connectionID := r.PathValue("id")
	conn, err := deps.Connections.GetConnection(r.Context(), connectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "unknown connection id", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to load connection", true, nil)
		return
	}

	forceRefresh := r.URL.Query().Get("refresh") == "true"
	snapshot, err := deps.Resolver.Resolve(r.Context(), conn, forceRefresh)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_FETCH_FAILED", "could not read the schema of this connection", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": snapshot.ConnectionID,
		"tables":        snapshot.Tables,
		"documentation": snapshot.Documentation,
		"fetched_at":    snapshot.FetchedAt,
		"stale":         snapshot.Stale,
	})
}

func handleConnectionTest(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tester == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TESTER_NOT_CONFIGURED", "connection tester is not configured", false, nil)
		return
	}
	// Testing mutates connection status, so it is held to the admin role.
	if err := requireRole(r, "admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	outcome, err := deps.Tester.Test(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "unknown connection id", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "TEST_FAILED", "connection test could not run", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func handleListMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat store is not configured", false, nil)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}
	messages, err := deps.Chat.ListMessages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORE_ERROR", "failed to list messages", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
