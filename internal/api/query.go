package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/arkwith7/text-to-sql-sub000/internal/auth"
	"github.com/arkwith7/text-to-sql-sub000/internal/observability"
	"github.com/arkwith7/text-to-sql-sub000/internal/pipeline"
)

type queryRequest struct {
	Question     string `json:"question"`
	SessionID    string `json:"session_id"`
	ConnectionID string `json:"connection_id"`
	Stream       bool   `json:"stream"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, "query_runner"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if strings.TrimSpace(request.ConnectionID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CONNECTION_REQUIRED", "connection_id is required", false, nil)
		return
	}

	req := pipeline.Request{
		SessionID:    request.SessionID,
		Question:     request.Question,
		ConnectionID: request.ConnectionID,
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		req.OwnerID = identity.UserID
	}

	req, stream := deps.Runner.Submit(r.Context(), req)

	if request.Stream || wantsEventStream(r) {
		streamEvents(deps, w, r, req.ID, stream)
		return
	}
	respondWhenTerminal(deps, w, r, req.ID, stream)
}

// handleQueryEvents re-attaches a reader to an in-flight (or just finished)
// request's event stream.
func handleQueryEvents(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Broker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STREAMS_NOT_CONFIGURED", "stream dependencies are not configured", false, nil)
		return
	}
	requestID := r.PathValue("id")
	stream, ok := deps.Broker.Get(requestID)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "REQUEST_NOT_FOUND", "no stream for this request id", false, nil)
		return
	}
	streamEvents(deps, w, r, requestID, stream)
}

// respondWhenTerminal blocks until the pipeline finishes and renders the
// terminal event as a single JSON response.
func respondWhenTerminal(deps Dependencies, w http.ResponseWriter, r *http.Request, requestID string, stream *pipeline.Stream) {
	events, cancel := stream.Subscribe()
	defer cancel()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				writeError(r.Context(), w, http.StatusInternalServerError, "STREAM_CLOSED", "the request finished without a terminal event", false, nil)
				return
			}
			if !event.Terminal() {
				continue
			}
			if event.Event == pipeline.EventQueryCompleted {
				payload := map[string]any{"request_id": requestID}
				for key, value := range event.Data {
					payload[key] = value
				}
				writeJSON(w, http.StatusOK, payload)
				return
			}
			status, code := terminalErrorStatus(event.Data)
			message, _ := event.Data["message"].(string)
			writeError(r.Context(), w, status, code, message, status >= http.StatusInternalServerError, map[string]any{
				"request_id":   requestID,
				"error_type":   event.Data["error_type"],
				"error_detail": event.Data["error_detail"],
				"stage":        event.Data["stage"],
			})
			return
		case <-r.Context().Done():
			// The pipeline keeps running; the client can re-attach via the
			// events endpoint.
			return
		}
	}
}

func streamEvents(deps Dependencies, w http.ResponseWriter, r *http.Request, requestID string, stream *pipeline.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming", false, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observability.IncrementActiveStreams()
	defer observability.DecrementActiveStreams()

	events, cancel := stream.Subscribe()
	defer cancel()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				if deps.Logger != nil {
					deps.Logger.Debug("stream write failed", "request_id", requestID, "error", err)
				}
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event pipeline.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Event, data)
	return err
}

func wantsEventStream(r *http.Request) bool {
	if r.URL.Query().Get("stream") == "true" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// terminalErrorStatus maps the error taxonomy onto HTTP statuses for the
// non-streaming mode.
func terminalErrorStatus(data map[string]any) (int, string) {
	errorType, _ := data["error_type"].(string)
	errorDetail, _ := data["error_detail"].(string)
	switch errorType {
	case "SchemaFetchError":
		return http.StatusBadGateway, "SCHEMA_FETCH_FAILED"
	case "GenerationError":
		if errorDetail == "no_match" {
			return http.StatusUnprocessableEntity, "GENERATION_NO_MATCH"
		}
		return http.StatusBadGateway, "GENERATION_FAILED"
	case "ValidationError":
		return http.StatusBadRequest, "SQL_REJECTED"
	case "ExecutionError":
		switch errorDetail {
		case "timeout":
			return http.StatusGatewayTimeout, "EXECUTION_TIMEOUT"
		case "permission_denied":
			return http.StatusForbidden, "EXECUTION_FORBIDDEN"
		case "connection_lost":
			return http.StatusBadGateway, "CONNECTION_LOST"
		default:
			return http.StatusBadRequest, "EXECUTION_FAILED"
		}
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// requireRole is satisfied trivially when no identity is attached, which is
// the case when auth is disabled by configuration.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) || identity.HasRole("admin") {
		return nil
	}
	return fmt.Errorf("role %q is required", role)
}
