package target

import (
	"strings"
	"testing"

	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(store.Connection{
		Host:     "db.internal",
		Port:     5433,
		Username: "reader",
		Password: "p@ss word",
		Database: "northwind",
	})
	if !strings.HasPrefix(dsn, "postgres://reader:") {
		t.Fatalf("dsn = %q", dsn)
	}
	if !strings.Contains(dsn, "db.internal:5433/northwind") {
		t.Fatalf("dsn = %q", dsn)
	}
	if !strings.Contains(dsn, "sslmode=prefer") {
		t.Fatalf("dsn = %q", dsn)
	}
	if strings.Contains(dsn, "p@ss word") {
		t.Fatalf("password not escaped: %q", dsn)
	}
}

func TestOpenRejectsUnknownDBType(t *testing.T) {
	if _, err := Open(store.Connection{DBType: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported db type")
	}
}
