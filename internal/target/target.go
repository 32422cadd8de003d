// Package target opens database handles for user-registered connections.
// It is shared by the schema resolver, the connection tester, and the
// executor so all three dial a target the same way.
package target

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

// Open returns an unpooled handle for the connection's target database.
// Callers own the handle and must close it; pooling happens above this
// package, keyed by connection id.
func Open(conn store.Connection) (*sql.DB, error) {
	switch conn.DBType {
	case store.DBTypePostgres:
		db, err := sql.Open("pgx", PostgresDSN(conn))
		if err != nil {
			return nil, fmt.Errorf("open postgres target: %w", err)
		}
		return db, nil
	case store.DBTypeDuckDB:
		// For duckdb the database field is a local file path; empty means
		// an in-memory database.
		db, err := sql.Open("duckdb", conn.Database)
		if err != nil {
			return nil, fmt.Errorf("open duckdb target: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db type %q", conn.DBType)
	}
}

func PostgresDSN(conn store.Connection) string {
	host := conn.Host
	if conn.Port > 0 {
		host = fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conn.Username, conn.Password),
		Host:   host,
		Path:   "/" + conn.Database,
	}
	q := u.Query()
	q.Set("sslmode", "prefer")
	u.RawQuery = q.Encode()
	return u.String()
}
