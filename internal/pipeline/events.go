package pipeline

import "time"

// Stage is the internal state machine for one query request. Stages are
// strictly ordered and never skipped; error is terminal from any of them.
type Stage string

const (
	StageQueued            Stage = "queued"
	StageAnalyzingSchema   Stage = "analyzing_schema"
	StageGeneratingSQL     Stage = "generating_sql"
	StageValidatingSQL     Stage = "validating_sql"
	StageExecutingQuery    Stage = "executing_query"
	StageProcessingResults Stage = "processing_results"
	StageCompleted         Stage = "completed"
	StageError             Stage = "error"
)

// Wire event names, in emission order.
const (
	EventQueryStarted      = "query_started"
	EventAnalyzing         = "analyzing"
	EventGeneratingSQL     = "generating_sql"
	EventSQLGenerated      = "sql_generated"
	EventExecutingQuery    = "executing_query"
	EventProcessingResults = "processing_results"
	EventGeneratingInsight = "generating_insights"
	EventQueryCompleted    = "query_completed"
	EventError             = "error"
)

// StreamEvent is the only event shape other components may depend on.
// Sequence numbers are per request, start at 1, and have no gaps.
type StreamEvent struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Seq       uint64         `json:"seq"`
	Data      map[string]any `json:"data,omitempty"`
}

func (e StreamEvent) Terminal() bool {
	return e.Event == EventQueryCompleted || e.Event == EventError
}

func eventTimestamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}
