package schema

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

func TestDuckDBIntrospectorAttachesForeignKeys(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT table_name, column_name, data_type, is_nullable").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("orders", "order_id", "INTEGER", "NO").
			AddRow("orders", "customer_id", "VARCHAR", "YES").
			AddRow("customers", "customer_id", "VARCHAR", "NO"))

	mock.ExpectQuery("FROM duckdb_constraints").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "referenced_table", "referenced_column"}).
			AddRow("orders", "customer_id", "customers", "customer_id"))

	intro := &DuckDBIntrospector{OpenDB: func(store.Connection) (*sql.DB, error) { return db, nil }}
	tables, err := intro.Introspect(context.Background(), store.Connection{ID: "conn-duck"})
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}

	if len(tables) != 2 {
		t.Fatalf("len(tables) = %d", len(tables))
	}
	if tables[0].Name != "orders" || len(tables[0].Columns) != 2 {
		t.Fatalf("tables[0] = %+v", tables[0])
	}
	fks := tables[0].ForeignKeys
	if len(fks) != 1 || fks[0].Column != "customer_id" || fks[0].RefTable != "customers" {
		t.Fatalf("foreign keys = %+v", fks)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
