package sqlgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/llm"
	"github.com/arkwith7/text-to-sql-sub000/internal/schema"
)

// ModelGenerator builds a prompt embedding the schema snapshot and the
// question and asks the language-model collaborator for SQL.
type ModelGenerator struct {
	Client  llm.Client
	Timeout time.Duration
}

func (g *ModelGenerator) Generate(ctx context.Context, question string, snapshot schema.Snapshot) (Generation, error) {
	if g.Client == nil {
		return Generation{}, &ProviderError{Err: fmt.Errorf("llm client is not configured")}
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Generation{}, &ProviderError{Err: fmt.Errorf("question is required")}
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	completion, err := g.Client.Complete(ctx, buildSQLPrompt(question, snapshot))
	if err != nil {
		return Generation{}, &ProviderError{Err: err}
	}

	sql := stripMarkdownSQL(completion.Text)
	if strings.TrimSpace(sql) == "" {
		return Generation{}, &ProviderError{Err: fmt.Errorf("model returned empty SQL")}
	}

	return Generation{
		SQL:        sql,
		Confidence: 0.9,
		Strategy:   "model",
		Usage:      completion.Usage,
	}, nil
}

func buildSQLPrompt(question string, snapshot schema.Snapshot) string {
	var b strings.Builder
	b.WriteString("You convert natural language business questions into a single read-only SQL query. ")
	b.WriteString("Use standard PostgreSQL-compatible syntax. Return ONLY SQL. No markdown, no explanation.\n\n")
	b.WriteString("Schema:\n")
	b.WriteString(snapshot.PromptText())
	b.WriteString("\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Use only the listed tables and columns.\n")
	b.WriteString("- Prefer explicit column lists over SELECT *.\n")
	b.WriteString("- Never produce INSERT, UPDATE, DELETE, or DDL.\n")
	b.WriteString("- Output a single SQL query only.")
	return b.String()
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
