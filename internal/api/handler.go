package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkwith7/text-to-sql-sub000/internal/config"
	"github.com/arkwith7/text-to-sql-sub000/internal/conntest"
	"github.com/arkwith7/text-to-sql-sub000/internal/observability"
	"github.com/arkwith7/text-to-sql-sub000/internal/pipeline"
	"github.com/arkwith7/text-to-sql-sub000/internal/schema"
	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

type ReadinessCheck func(ctx context.Context) error

// QueryRunner starts the pipeline for one question.
type QueryRunner interface {
	Submit(ctx context.Context, req pipeline.Request) (pipeline.Request, *pipeline.Stream)
}

type ConnectionTester interface {
	Test(ctx context.Context, connectionID string) (conntest.Outcome, error)
}

type SchemaResolver interface {
	Resolve(ctx context.Context, conn store.Connection, forceRefresh bool) (schema.Snapshot, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Runner            QueryRunner
	Broker            *pipeline.Broker
	Tester            ConnectionTester
	Resolver          SchemaResolver
	Connections       store.ConnectionStore
	Chat              store.ChatStore
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})
	protected.HandleFunc("GET /v1/query/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		handleQueryEvents(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleListConnections(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections/{id}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleConnectionSchema(deps, w, r)
	})
	protected.HandleFunc("POST /v1/connections/{id}/test", func(w http.ResponseWriter, r *http.Request) {
		handleConnectionTest(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		handleListMessages(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/query", protectedHandler)
	mux.Handle("GET /v1/query/{id}/events", protectedHandler)
	mux.Handle("GET /v1/connections", protectedHandler)
	mux.Handle("GET /v1/connections/{id}/schema", protectedHandler)
	mux.Handle("POST /v1/connections/{id}/test", protectedHandler)
	mux.Handle("GET /v1/sessions/{id}/messages", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckMetadataDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Metadata.DSN == "" {
			return errors.New("metadata dsn is not configured")
		}
		return nil
	}
}

func CheckStore(metaStore store.Store) ReadinessCheck {
	return func(ctx context.Context) error {
		if metaStore == nil {
			return errors.New("metadata store is not configured")
		}
		return metaStore.HealthCheck(ctx)
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
