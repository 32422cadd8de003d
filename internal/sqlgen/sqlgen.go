package sqlgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/arkwith7/text-to-sql-sub000/internal/llm"
	"github.com/arkwith7/text-to-sql-sub000/internal/schema"
)

// ErrNoMatch is the defined terminal outcome when no generation strategy can
// produce SQL for a question. It is not an internal failure.
var ErrNoMatch = errors.New("sqlgen: no rule matched the question")

// ProviderError wraps a failure of the external model collaborator.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("sql generation provider failed: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type Generation struct {
	SQL        string
	Confidence float64
	Strategy   string
	Usage      llm.Usage
}

// Generator turns a natural-language question plus a schema snapshot into a
// candidate SQL statement. The result is a candidate only: every generation
// goes through validation before it can execute.
type Generator interface {
	Generate(ctx context.Context, question string, snapshot schema.Snapshot) (Generation, error)
}
