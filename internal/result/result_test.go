package result

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/executor"
	"github.com/arkwith7/text-to-sql-sub000/internal/llm"
)

type fakeLLM struct {
	completion llm.Completion
	err        error
	prompts    []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (llm.Completion, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return llm.Completion{}, f.err
	}
	return f.completion, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func categoryResult() executor.Result {
	return executor.Result{
		Columns: []string{"category_name", "product_count"},
		Rows: [][]any{
			{"Beverages", int64(12)},
			{"Condiments", int64(11)},
		},
		RowCount: 2,
		Duration: 120 * time.Millisecond,
	}
}

func TestFinalizeAssemblesPayload(t *testing.T) {
	f := NewFinalizer(nil, testLogger())

	response := f.Finalize(context.Background(), "카테고리별 제품 수", "SELECT ...", categoryResult(), llm.Usage{})
	if response.SQLQuery != "SELECT ..." {
		t.Fatalf("unexpected sql %q", response.SQLQuery)
	}
	if response.RowCount != 2 || len(response.Data) != 2 {
		t.Fatalf("unexpected data %+v", response)
	}
	if response.Data[0]["category_name"] != "Beverages" || response.Data[0]["product_count"] != int64(12) {
		t.Fatalf("unexpected first row %+v", response.Data[0])
	}
	if response.ExecutionTime != 0.12 {
		t.Fatalf("expected seconds conversion, got %v", response.ExecutionTime)
	}
	if response.TokenUsage != nil {
		t.Fatalf("expected no token usage without model calls")
	}
	if response.Insights != "" {
		t.Fatalf("expected no insight without a client")
	}
}

func TestFinalizeAddsInsightAndUsage(t *testing.T) {
	client := &fakeLLM{completion: llm.Completion{
		Text:  "Beverages lead with 12 products.",
		Usage: llm.Usage{PromptTokens: 80, CompletionTokens: 12, TotalTokens: 92},
	}}
	f := NewFinalizer(client, testLogger())

	response := f.Finalize(context.Background(), "카테고리별 제품 수", "SELECT ...", categoryResult(),
		llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120})
	if response.Insights != "Beverages lead with 12 products." {
		t.Fatalf("unexpected insight %q", response.Insights)
	}
	if response.TokenUsage == nil || response.TokenUsage.TotalTokens != 212 {
		t.Fatalf("expected combined usage, got %+v", response.TokenUsage)
	}
	if len(client.prompts) != 1 {
		t.Fatalf("expected one insight call, got %d", len(client.prompts))
	}
	if !strings.Contains(client.prompts[0], "Beverages | 12") {
		t.Fatalf("expected sample rows in prompt, got %q", client.prompts[0])
	}
}

func TestFinalizeInsightFailureDegrades(t *testing.T) {
	client := &fakeLLM{err: errors.New("upstream 503")}
	f := NewFinalizer(client, testLogger())

	response := f.Finalize(context.Background(), "question", "SELECT 1", categoryResult(), llm.Usage{})
	if response.Insights != "" || response.Explanation != "" {
		t.Fatalf("expected degraded response, got %+v", response)
	}
	if response.RowCount != 2 {
		t.Fatalf("result data must survive insight failure")
	}
}

func TestFinalizeSkipsInsightForEmptyResult(t *testing.T) {
	client := &fakeLLM{completion: llm.Completion{Text: "nothing"}}
	f := NewFinalizer(client, testLogger())

	response := f.Finalize(context.Background(), "question", "SELECT 1",
		executor.Result{Columns: []string{"n"}, Rows: [][]any{}, RowCount: 0}, llm.Usage{})
	if len(client.prompts) != 0 {
		t.Fatalf("expected no insight call for empty result")
	}
	if response.ChartSuggestion != nil {
		t.Fatalf("expected no chart hint for empty result")
	}
}

func TestSuggestChartShapes(t *testing.T) {
	bar := suggestChart(categoryResult())
	if bar == nil || bar.Type != "bar" || bar.XAxis != "category_name" || bar.YAxis != "product_count" {
		t.Fatalf("unexpected suggestion %+v", bar)
	}

	stat := suggestChart(executor.Result{Columns: []string{"total_revenue"}, Rows: [][]any{{float64(1265793)}}, RowCount: 1})
	if stat == nil || stat.Type != "stat" {
		t.Fatalf("unexpected suggestion %+v", stat)
	}

	wide := suggestChart(executor.Result{
		Columns:  []string{"a", "b", "c"},
		Rows:     [][]any{{"x", 1, 2}},
		RowCount: 1,
	})
	if wide == nil || wide.Type != "table" {
		t.Fatalf("unexpected suggestion %+v", wide)
	}
}

func TestSuggestChartPrefersLineForManyRows(t *testing.T) {
	rows := make([][]any, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, []any{"2026-01", int64(i)})
	}
	suggestion := suggestChart(executor.Result{Columns: []string{"month", "orders"}, Rows: rows, RowCount: len(rows)})
	if suggestion == nil || suggestion.Type != "line" {
		t.Fatalf("unexpected suggestion %+v", suggestion)
	}
}
