package pipeline

import (
	"errors"
	"fmt"

	"github.com/arkwith7/text-to-sql-sub000/internal/executor"
	"github.com/arkwith7/text-to-sql-sub000/internal/schema"
	"github.com/arkwith7/text-to-sql-sub000/internal/sqlcheck"
	"github.com/arkwith7/text-to-sql-sub000/internal/sqlgen"
)

// terminalFailure is what a failed request reports in its terminal event:
// the taxonomy kind, the machine-readable detail within that kind, and a
// message safe to show to an end user.
type terminalFailure struct {
	Kind    string
	Detail  string
	Message string
}

func (f terminalFailure) Outcome() string {
	if f.Detail == "" {
		return f.Kind
	}
	return f.Kind + ":" + f.Detail
}

func (f terminalFailure) Data() map[string]any {
	data := map[string]any{
		"error_type": f.Kind,
		"message":    f.Message,
	}
	if f.Detail != "" {
		data["error_detail"] = f.Detail
	}
	return data
}

// classifyFailure maps any pipeline error onto the fixed taxonomy. Anything
// unrecognized is an InternalError so no raw driver text leaks to clients.
func classifyFailure(err error) terminalFailure {
	var fetchErr *schema.FetchError
	if errors.As(err, &fetchErr) {
		return terminalFailure{
			Kind:    "SchemaFetchError",
			Message: fmt.Sprintf("could not read the schema of connection %s", fetchErr.ConnectionID),
		}
	}

	if errors.Is(err, sqlgen.ErrNoMatch) {
		return terminalFailure{
			Kind:    "GenerationError",
			Detail:  "no_match",
			Message: "the question could not be translated into a database query",
		}
	}
	var providerErr *sqlgen.ProviderError
	if errors.As(err, &providerErr) {
		return terminalFailure{
			Kind:    "GenerationError",
			Detail:  "provider_error",
			Message: "the SQL generation service is currently unavailable",
		}
	}

	var validationErr *sqlcheck.ValidationError
	if errors.As(err, &validationErr) {
		return terminalFailure{
			Kind:    "ValidationError",
			Detail:  string(validationErr.Reason),
			Message: validationErr.Detail,
		}
	}

	var execErr *executor.ExecError
	if errors.As(err, &execErr) {
		return terminalFailure{
			Kind:    "ExecutionError",
			Detail:  string(execErr.Kind),
			Message: executionMessage(execErr.Kind),
		}
	}

	return terminalFailure{
		Kind:    "InternalError",
		Message: "an unexpected error occurred while processing the request",
	}
}

func executionMessage(kind executor.Kind) string {
	switch kind {
	case executor.KindTimeout:
		return "the query exceeded its execution time limit"
	case executor.KindPermissionDenied:
		return "the database user is not allowed to run this query"
	case executor.KindConnectionLost:
		return "the connection to the database was lost"
	case executor.KindSyntaxError:
		return "the generated query was rejected by the database"
	default:
		return "the query failed for an unknown reason"
	}
}
