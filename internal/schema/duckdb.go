package schema

import (
	"context"
	"database/sql"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
	"github.com/arkwith7/text-to-sql-sub000/internal/target"
)

// DuckDBIntrospector reads the catalog of a local DuckDB file. DuckDB exposes
// the same information_schema.columns view as Postgres; foreign keys come
// from duckdb_constraints().
type DuckDBIntrospector struct {
	OpenDB func(conn store.Connection) (*sql.DB, error)
}

func (d *DuckDBIntrospector) Introspect(ctx context.Context, conn store.Connection) ([]Table, error) {
	openDB := d.OpenDB
	if openDB == nil {
		openDB = target.Open
	}
	db, err := openDB(conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	tables, order, err := introspectColumns(ctx, db, duckdbColumnsQuery)
	if err != nil {
		return nil, err
	}
	if err := attachForeignKeys(ctx, db, duckdbForeignKeysQuery, tables); err != nil {
		return nil, err
	}

	result := make([]Table, 0, len(order))
	for _, name := range order {
		result = append(result, *tables[name])
	}
	return result, nil
}

const duckdbColumnsQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`

// duckdb_constraints() stores constrained and referenced columns as lists;
// unnesting both in one SELECT zips them pairwise.
const duckdbForeignKeysQuery = `
SELECT table_name, unnest(constraint_column_names), referenced_table, unnest(referenced_column_names)
FROM duckdb_constraints()
WHERE constraint_type = 'FOREIGN KEY' AND schema_name = 'main'
ORDER BY table_name`
