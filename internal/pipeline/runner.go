package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/cache"
	"github.com/arkwith7/text-to-sql-sub000/internal/executor"
	"github.com/arkwith7/text-to-sql-sub000/internal/llm"
	"github.com/arkwith7/text-to-sql-sub000/internal/observability"
	"github.com/arkwith7/text-to-sql-sub000/internal/result"
	"github.com/arkwith7/text-to-sql-sub000/internal/schema"
	"github.com/arkwith7/text-to-sql-sub000/internal/sqlcheck"
	"github.com/arkwith7/text-to-sql-sub000/internal/sqlgen"
	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

// Request is one submitted question.
type Request struct {
	ID           string
	SessionID    string
	Question     string
	ConnectionID string
	OwnerID      string
}

type Settings struct {
	// GlobalTimeout bounds the whole request across all stages.
	GlobalTimeout time.Duration
	// ExecutionTimeout bounds the SQL execution stage alone.
	ExecutionTimeout time.Duration
}

type SchemaResolver interface {
	Resolve(ctx context.Context, conn store.Connection, forceRefresh bool) (schema.Snapshot, error)
}

type QueryExecutor interface {
	Execute(ctx context.Context, conn store.Connection, sqlText string, timeout time.Duration) (executor.Result, error)
}

type ResponseFinalizer interface {
	Finalize(ctx context.Context, question, sqlText string, execResult executor.Result, usage llm.Usage) result.QueryResponse
}

// Archiver stores a copy of a completed result set. Best-effort only.
type Archiver interface {
	Archive(ctx context.Context, requestID, connectionID string, execResult executor.Result) error
}

// Runner drives one request through resolve, generate, validate, execute,
// and finalize, emitting one event per stage. Each request runs in its own
// goroutine on a context detached from the submitting HTTP request, so a
// reader that disconnects does not abort in-flight work.
type Runner struct {
	Connections store.ConnectionStore
	Chat        store.ChatStore
	Resolver    SchemaResolver
	Generator   sqlgen.Generator
	Validator   *sqlcheck.Validator
	Executor    QueryExecutor
	Finalizer   ResponseFinalizer
	Broker      *Broker
	Cache       cache.Cache
	Archiver    Archiver
	Settings    Settings
	Logger      *slog.Logger
}

// Submit registers the request and starts its pipeline goroutine. The
// returned stream already carries the query_started event, so a subscriber
// never misses the head of the log.
func (r *Runner) Submit(ctx context.Context, req Request) (Request, *Stream) {
	if req.ID == "" {
		req.ID = newRequestID()
	}
	stream := r.Broker.Open(req.ID)
	stream.Publish(EventQueryStarted, map[string]any{
		"request_id":    req.ID,
		"session_id":    req.SessionID,
		"connection_id": req.ConnectionID,
		"question":      req.Question,
	})

	go r.run(context.WithoutCancel(ctx), req, stream)
	return req, stream
}

func (r *Runner) run(ctx context.Context, req Request, stream *Stream) {
	if r.Settings.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Settings.GlobalTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger().Error("pipeline panicked", "request_id", req.ID, "panic", fmt.Sprint(rec))
			r.fail(stream, StageError, terminalFailure{
				Kind:    "InternalError",
				Message: "an unexpected error occurred while processing the request",
			})
		}
		r.Broker.Release(req.ID)
	}()

	r.appendChat(ctx, req.SessionID, "user", req.Question, "")

	stream.Publish(EventAnalyzing, map[string]any{"stage": string(StageAnalyzingSchema)})
	stageStart := time.Now()
	conn, err := r.Connections.GetConnection(ctx, req.ConnectionID)
	if err != nil {
		r.fail(stream, StageAnalyzingSchema, classifyFailure(&schema.FetchError{ConnectionID: req.ConnectionID, Err: err}))
		return
	}
	snapshot, err := r.Resolver.Resolve(ctx, conn, false)
	if err != nil {
		r.fail(stream, StageAnalyzingSchema, classifyFailure(err))
		return
	}
	observability.ObserveStageDuration(string(StageAnalyzingSchema), time.Since(stageStart))

	stream.Publish(EventGeneratingSQL, map[string]any{"stage": string(StageGeneratingSQL)})
	stageStart = time.Now()
	generation, err := r.Generator.Generate(ctx, req.Question, snapshot)
	if err != nil {
		r.fail(stream, StageGeneratingSQL, classifyFailure(err))
		return
	}
	observability.ObserveStageDuration(string(StageGeneratingSQL), time.Since(stageStart))
	observability.AddLLMTokens(generation.Usage.PromptTokens, generation.Usage.CompletionTokens)

	stageStart = time.Now()
	safeSQL, err := r.Validator.Validate(generation.SQL)
	if err != nil {
		r.fail(stream, StageValidatingSQL, classifyFailure(err))
		return
	}
	observability.ObserveStageDuration(string(StageValidatingSQL), time.Since(stageStart))
	stream.Publish(EventSQLGenerated, map[string]any{
		"stage":      string(StageValidatingSQL),
		"sql":        safeSQL,
		"strategy":   generation.Strategy,
		"confidence": generation.Confidence,
	})

	stream.Publish(EventExecutingQuery, map[string]any{"stage": string(StageExecutingQuery)})
	stageStart = time.Now()
	execResult, err := r.Executor.Execute(ctx, conn, safeSQL, r.Settings.ExecutionTimeout)
	if err != nil {
		r.fail(stream, StageExecutingQuery, classifyFailure(err))
		return
	}
	observability.ObserveStageDuration(string(StageExecutingQuery), time.Since(stageStart))

	stream.Publish(EventProcessingResults, map[string]any{"stage": string(StageProcessingResults)})
	stream.Publish(EventGeneratingInsight, map[string]any{"stage": string(StageProcessingResults)})
	stageStart = time.Now()
	response := r.Finalizer.Finalize(ctx, req.Question, safeSQL, execResult, generation.Usage)
	observability.ObserveStageDuration(string(StageProcessingResults), time.Since(stageStart))

	usageToday := r.countUsage(ctx, req)
	r.archive(ctx, req, execResult)
	answer := response.Insights
	if answer == "" {
		answer = fmt.Sprintf("Returned %d rows.", response.RowCount)
	}
	r.appendChat(ctx, req.SessionID, "assistant", answer, safeSQL)

	data := payloadData(response)
	if usageToday > 0 {
		data["queries_today"] = usageToday
	}
	stream.Publish(EventQueryCompleted, data)
	observability.IncrementQueryOutcome("completed")
	r.logger().Info("query completed",
		"request_id", req.ID,
		"connection_id", req.ConnectionID,
		"rows", response.RowCount,
		"strategy", generation.Strategy)
}

func (r *Runner) fail(stream *Stream, stage Stage, failure terminalFailure) {
	data := failure.Data()
	data["stage"] = string(stage)
	stream.Publish(EventError, data)
	observability.IncrementQueryOutcome(failure.Outcome())
	r.logger().Warn("query failed",
		"stage", string(stage),
		"error_type", failure.Kind,
		"error_detail", failure.Detail)
}

// appendChat records the exchange in the session transcript. Failures are
// logged and ignored; the transcript is not part of the query contract.
func (r *Runner) appendChat(ctx context.Context, sessionID, role, content, sqlQuery string) {
	if r.Chat == nil || sessionID == "" || content == "" {
		return
	}
	_, err := r.Chat.AppendMessage(ctx, store.AppendMessageInput{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		SQLQuery:  sqlQuery,
	})
	if err != nil {
		r.logger().Warn("append chat message failed", "session_id", sessionID, "error", err)
	}
}

// countUsage bumps the per-connection daily counter. Cache loss degrades to
// losing the count, never the request.
func (r *Runner) countUsage(ctx context.Context, req Request) int64 {
	if r.Cache == nil {
		return 0
	}
	key := fmt.Sprintf("usage:queries:%s:%s", req.ConnectionID, time.Now().UTC().Format("2006-01-02"))
	count, err := r.Cache.Increment(ctx, key, 1, 24*time.Hour)
	if err != nil {
		r.logger().Warn("usage counter increment failed", "key", key, "error", err)
		return 0
	}
	return count
}

func (r *Runner) archive(ctx context.Context, req Request, execResult executor.Result) {
	if r.Archiver == nil || execResult.RowCount == 0 {
		return
	}
	if err := r.Archiver.Archive(ctx, req.ID, req.ConnectionID, execResult); err != nil {
		r.logger().Warn("result archival failed", "request_id", req.ID, "error", err)
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// payloadData round-trips the response through JSON so the event data uses
// the same field names as the non-streaming payload.
func payloadData(response result.QueryResponse) map[string]any {
	raw, err := json.Marshal(response)
	if err != nil {
		return map[string]any{"row_count": response.RowCount, "sql_query": response.SQLQuery}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]any{"row_count": response.RowCount, "sql_query": response.SQLQuery}
	}
	return data
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
