// Package sqlcheck performs the static safety check on generated SQL before
// anything reaches a target database. It is purely CPU-bound: tokenize,
// reject unsafe shapes, and normalize the statement with a row cap.
package sqlcheck

import (
	"fmt"
	"strings"
	"unicode"
)

type Reason string

const (
	ReasonForbiddenKeyword Reason = "forbidden_keyword"
	ReasonMultiStatement   Reason = "multi_statement"
	ReasonSyntax           Reason = "syntax"
)

// ValidationError is a rejection with a machine-readable reason code.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sql rejected (%s): %s", e.Reason, e.Detail)
}

// Keywords that may never appear as statement-level tokens. The list is
// checked against tokens, not raw text, so a question like "show products
// named 'drop table'" survives while real DDL/DML does not.
var forbiddenKeywords = map[string]struct{}{
	"DROP":     {},
	"DELETE":   {},
	"UPDATE":   {},
	"INSERT":   {},
	"ALTER":    {},
	"TRUNCATE": {},
	"GRANT":    {},
	"REVOKE":   {},
	"EXEC":     {},
}

// Validator rewrites accepted SQL into a normalized, bounded form. The
// generator never rewrites its own output; the validator is the only stage
// allowed to.
type Validator struct {
	// DefaultLimit is injected when the statement carries no explicit
	// row-limiting clause.
	DefaultLimit int
}

func New(defaultLimit int) *Validator {
	if defaultLimit <= 0 {
		defaultLimit = 1000
	}
	return &Validator{DefaultLimit: defaultLimit}
}

// Validate returns the safe-to-run statement or a *ValidationError.
func (v *Validator) Validate(sqlText string) (string, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return "", &ValidationError{Reason: ReasonSyntax, Detail: "empty statement"}
	}

	tokens, semicolons, err := tokenize(sqlText)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", &ValidationError{Reason: ReasonSyntax, Detail: "no SQL tokens found"}
	}
	// Forbidden keywords outrank every other rejection so that injected DDL
	// is always reported as such.
	for _, token := range tokens {
		if _, forbidden := forbiddenKeywords[token]; forbidden {
			return "", &ValidationError{Reason: ReasonForbiddenKeyword, Detail: fmt.Sprintf("keyword %s is not allowed", token)}
		}
	}
	if semicolons > 0 {
		return "", &ValidationError{Reason: ReasonMultiStatement, Detail: "multiple statements are not allowed"}
	}
	if first := tokens[0]; first != "SELECT" && first != "WITH" {
		return "", &ValidationError{Reason: ReasonSyntax, Detail: fmt.Sprintf("statement must start with SELECT or WITH, got %s", first)}
	}

	if !hasRowLimit(tokens) {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, v.DefaultLimit)
	}
	return sqlText, nil
}

// tokenize splits the statement into uppercased word tokens, skipping string
// literals, quoted identifiers, and comments, and counts statement-separating
// semicolons outside those regions.
func tokenize(sqlText string) ([]string, int, error) {
	var tokens []string
	var word strings.Builder
	semicolons := 0

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, strings.ToUpper(word.String()))
			word.Reset()
		}
	}

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'':
			flush()
			i++
			for i < len(runes) {
				if runes[i] == '\'' {
					// '' is an escaped quote inside the literal.
					if i+1 < len(runes) && runes[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			if i >= len(runes) {
				return nil, 0, &ValidationError{Reason: ReasonSyntax, Detail: "unterminated string literal"}
			}
		case r == '"':
			flush()
			i++
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			if i >= len(runes) {
				return nil, 0, &ValidationError{Reason: ReasonSyntax, Detail: "unterminated quoted identifier"}
			}
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			if i+1 >= len(runes) {
				return nil, 0, &ValidationError{Reason: ReasonSyntax, Detail: "unterminated comment"}
			}
			i++
		case r == ';':
			flush()
			semicolons++
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens, semicolons, nil
}

func hasRowLimit(tokens []string) bool {
	for _, token := range tokens {
		if token == "LIMIT" || token == "FETCH" {
			return true
		}
	}
	return false
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
