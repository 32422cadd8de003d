package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
	"github.com/arkwith7/text-to-sql-sub000/internal/target"
)

// PostgresIntrospector reads tables, columns, and foreign keys from the
// information_schema of a Postgres target.
type PostgresIntrospector struct {
	// OpenDB is swappable for tests; defaults to target.Open.
	OpenDB func(conn store.Connection) (*sql.DB, error)
}

func (p *PostgresIntrospector) Introspect(ctx context.Context, conn store.Connection) ([]Table, error) {
	openDB := p.OpenDB
	if openDB == nil {
		openDB = target.Open
	}
	db, err := openDB(conn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	tables, order, err := introspectColumns(ctx, db, postgresColumnsQuery)
	if err != nil {
		return nil, err
	}
	if err := attachForeignKeys(ctx, db, postgresForeignKeysQuery, tables); err != nil {
		return nil, err
	}

	result := make([]Table, 0, len(order))
	for _, name := range order {
		result = append(result, *tables[name])
	}
	return result, nil
}

const postgresColumnsQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`

const postgresForeignKeysQuery = `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'
ORDER BY tc.table_name`

func introspectColumns(ctx context.Context, db *sql.DB, query string) (map[string]*Table, []string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := map[string]*Table{}
	var order []string
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, nil, fmt.Errorf("scan column row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			table = &Table{Name: tableName}
			tables[tableName] = table
			order = append(order, tableName)
		}
		table.Columns = append(table.Columns, Column{
			Name:     columnName,
			DataType: dataType,
			Nullable: isNullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return tables, order, nil
}

// attachForeignKeys runs a dialect-specific query producing
// (table, column, referenced table, referenced column) rows.
func attachForeignKeys(ctx context.Context, db *sql.DB, query string, tables map[string]*Table) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName, refTable, refColumn string
		if err := rows.Scan(&tableName, &columnName, &refTable, &refColumn); err != nil {
			return fmt.Errorf("scan foreign key row: %w", err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		table.ForeignKeys = append(table.ForeignKeys, ForeignKey{
			Column:    columnName,
			RefTable:  refTable,
			RefColumn: refColumn,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign key rows: %w", err)
	}
	return nil
}
