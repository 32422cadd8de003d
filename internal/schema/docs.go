package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/llm"
)

// LLMEnricher asks the language model for a short prose description of the
// schema. It runs under its own timeout so a slow model cannot hold up
// resolution.
type LLMEnricher struct {
	Client  llm.Client
	Timeout time.Duration
}

func (e *LLMEnricher) Describe(ctx context.Context, tables []Table) (string, error) {
	if e.Client == nil {
		return "", fmt.Errorf("llm client is required")
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := buildDocPrompt(tables)
	completion, err := e.Client.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("describe schema: %w", err)
	}
	return strings.TrimSpace(completion.Text), nil
}

func buildDocPrompt(tables []Table) string {
	var b strings.Builder
	b.WriteString("Summarize the business purpose of this database schema in at most five sentences. ")
	b.WriteString("Mention the key entities and how they relate. Plain text only.\n\n")
	for _, table := range tables {
		b.WriteString(table.Name)
		b.WriteString(": ")
		names := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			names = append(names, col.Name)
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}
	return b.String()
}
