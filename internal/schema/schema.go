package schema

import (
	"fmt"
	"strings"
	"time"
)

type Column struct {
	Name     string `json:"name"`
	DataType string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Snapshot is the cached structural metadata for one connection. FetchedAt
// and TTL travel with the snapshot so consumers can judge staleness without
// asking the cache.
type Snapshot struct {
	ConnectionID  string        `json:"connection_id"`
	Tables        []Table       `json:"tables"`
	Documentation string        `json:"documentation,omitempty"`
	FetchedAt     time.Time     `json:"fetched_at"`
	TTL           time.Duration `json:"ttl"`
	Stale         bool          `json:"stale,omitempty"`
}

func (s Snapshot) Expired(now time.Time) bool {
	if s.TTL <= 0 {
		return false
	}
	return now.After(s.FetchedAt.Add(s.TTL))
}

// PromptText renders the snapshot as compact DDL-like text for embedding in
// model prompts and rule matching.
func (s Snapshot) PromptText() string {
	var b strings.Builder
	for _, table := range s.Tables {
		fmt.Fprintf(&b, "TABLE %s (\n", table.Name)
		for _, col := range table.Columns {
			nullability := "NOT NULL"
			if col.Nullable {
				nullability = "NULL"
			}
			fmt.Fprintf(&b, "  %s %s %s\n", col.Name, col.DataType, nullability)
		}
		for _, fk := range table.ForeignKeys {
			fmt.Fprintf(&b, "  FOREIGN KEY (%s) REFERENCES %s(%s)\n", fk.Column, fk.RefTable, fk.RefColumn)
		}
		b.WriteString(")\n")
	}
	if s.Documentation != "" {
		b.WriteString("\n-- ")
		b.WriteString(strings.ReplaceAll(s.Documentation, "\n", "\n-- "))
		b.WriteString("\n")
	}
	return b.String()
}

// TableNames returns the table names in snapshot order.
func (s Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

// FetchError wraps a failed catalog query against the target database.
type FetchError struct {
	ConnectionID string
	Err          error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("schema fetch for connection %q failed: %v", e.ConnectionID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
