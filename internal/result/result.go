// Package result assembles the externally visible query payload from a raw
// execution result. Explanation and insight generation are best-effort side
// calls that degrade the response instead of failing it.
package result

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/executor"
	"github.com/arkwith7/text-to-sql-sub000/internal/llm"
)

// QueryResponse is the stable payload other components may depend on.
type QueryResponse struct {
	SQLQuery        string           `json:"sql_query"`
	Columns         []string         `json:"columns"`
	Data            []map[string]any `json:"data"`
	RowCount        int              `json:"row_count"`
	ExecutionTime   float64          `json:"execution_time"`
	Truncated       bool             `json:"truncated,omitempty"`
	Explanation     string           `json:"explanation,omitempty"`
	Insights        string           `json:"insights,omitempty"`
	ChartSuggestion *ChartSuggestion `json:"chart_suggestion,omitempty"`
	TokenUsage      *llm.Usage       `json:"token_usage,omitempty"`
}

// ChartSuggestion is a rendering hint only, derived from column shape.
type ChartSuggestion struct {
	Type   string `json:"type"`
	XAxis  string `json:"x_axis,omitempty"`
	YAxis  string `json:"y_axis,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Finalizer builds QueryResponses. Client may be nil, in which case no
// insight call is attempted.
type Finalizer struct {
	Client         llm.Client
	InsightTimeout time.Duration
	InsightRows    int
	Logger         *slog.Logger
}

func NewFinalizer(client llm.Client, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{
		Client:         client,
		InsightTimeout: 10 * time.Second,
		InsightRows:    20,
		Logger:         logger,
	}
}

// Finalize assembles the response. usage carries tokens already spent on SQL
// generation; insight tokens are added on top.
func (f *Finalizer) Finalize(ctx context.Context, question, sqlText string, execResult executor.Result, usage llm.Usage) QueryResponse {
	response := QueryResponse{
		SQLQuery:      sqlText,
		Columns:       execResult.Columns,
		Data:          rowsToObjects(execResult.Columns, execResult.Rows),
		RowCount:      execResult.RowCount,
		ExecutionTime: execResult.Duration.Seconds(),
		Truncated:     execResult.Truncated,
	}
	if suggestion := suggestChart(execResult); suggestion != nil {
		response.ChartSuggestion = suggestion
	}

	if f.Client != nil && execResult.RowCount > 0 {
		insight, insightUsage, err := f.generateInsight(ctx, question, sqlText, execResult)
		if err != nil {
			f.Logger.Warn("insight generation failed", "error", err)
		} else {
			response.Insights = insight
			response.Explanation = insight
			usage = usage.Add(insightUsage)
		}
	}

	if !usage.IsZero() {
		response.TokenUsage = &usage
	}
	return response
}

func (f *Finalizer) generateInsight(ctx context.Context, question, sqlText string, execResult executor.Result) (string, llm.Usage, error) {
	timeout := f.InsightTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	completion, err := f.Client.Complete(ctx, buildInsightPrompt(question, sqlText, execResult, f.sampleSize()))
	if err != nil {
		return "", llm.Usage{}, err
	}
	text := strings.TrimSpace(completion.Text)
	if text == "" {
		return "", llm.Usage{}, fmt.Errorf("model returned empty insight")
	}
	return text, completion.Usage, nil
}

func (f *Finalizer) sampleSize() int {
	if f.InsightRows <= 0 {
		return 20
	}
	return f.InsightRows
}

func buildInsightPrompt(question, sqlText string, execResult executor.Result, sample int) string {
	var b strings.Builder
	b.WriteString("Summarize the key findings of this query result in two or three plain sentences for a business user. ")
	b.WriteString("Answer in the language of the question.\n\n")
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nSQL:\n")
	b.WriteString(sqlText)
	b.WriteString("\n\nColumns: ")
	b.WriteString(strings.Join(execResult.Columns, ", "))
	b.WriteString(fmt.Sprintf("\nTotal rows: %d\nSample rows:\n", execResult.RowCount))
	for i, row := range execResult.Rows {
		if i >= sample {
			break
		}
		parts := make([]string, len(row))
		for j, value := range row {
			parts[j] = fmt.Sprint(value)
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString("\n")
	}
	return b.String()
}

func rowsToObjects(columns []string, rows [][]any) []map[string]any {
	objects := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		object := make(map[string]any, len(columns))
		for i, column := range columns {
			if i < len(row) {
				object[column] = row[i]
			}
		}
		objects = append(objects, object)
	}
	return objects
}

// suggestChart picks a visualization hint from the result shape: one label
// column plus one numeric column reads as a bar chart, a single numeric cell
// as a stat card, two numerics as a scatter.
func suggestChart(execResult executor.Result) *ChartSuggestion {
	if execResult.RowCount == 0 || len(execResult.Columns) == 0 {
		return nil
	}
	numeric := make([]bool, len(execResult.Columns))
	for i := range execResult.Columns {
		numeric[i] = columnIsNumeric(execResult.Rows, i)
	}

	switch {
	case len(execResult.Columns) == 1 && numeric[0] && execResult.RowCount == 1:
		return &ChartSuggestion{Type: "stat", YAxis: execResult.Columns[0], Reason: "single numeric value"}
	case len(execResult.Columns) == 2 && !numeric[0] && numeric[1]:
		chartType := "bar"
		if execResult.RowCount > 12 {
			chartType = "line"
		}
		return &ChartSuggestion{Type: chartType, XAxis: execResult.Columns[0], YAxis: execResult.Columns[1], Reason: "label column with numeric measure"}
	case len(execResult.Columns) == 2 && numeric[0] && numeric[1]:
		return &ChartSuggestion{Type: "scatter", XAxis: execResult.Columns[0], YAxis: execResult.Columns[1], Reason: "two numeric columns"}
	}
	return &ChartSuggestion{Type: "table", Reason: "no obvious axis mapping"}
}

func columnIsNumeric(rows [][]any, index int) bool {
	seen := false
	for _, row := range rows {
		if index >= len(row) || row[index] == nil {
			continue
		}
		switch row[index].(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			seen = true
		default:
			return false
		}
	}
	return seen
}
