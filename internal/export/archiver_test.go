package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/arkwith7/text-to-sql-sub000/internal/executor"
	"github.com/arkwith7/text-to-sql-sub000/internal/storage"
)

type fakeObjectStore struct {
	keys   []string
	bodies [][]byte
	types  []string
	err    error
}

func (f *fakeObjectStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if f.err != nil {
		return storage.ObjectInfo{}, f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, data)
	f.types = append(f.types, opts.ContentType)
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func (f *fakeObjectStore) Delete(_ context.Context, _ string) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleResult() executor.Result {
	return executor.Result{
		Columns: []string{"category_name", "product_count"},
		Rows: [][]any{
			{"Beverages", int64(12)},
			{"Condiments", int64(11)},
		},
		RowCount: 2,
	}
}

func TestArchiveWritesParquetObject(t *testing.T) {
	store := &fakeObjectStore{}
	archiver := NewArchiver(store, testLogger())
	archiver.clock = func() time.Time {
		return time.Date(2026, time.August, 30, 9, 0, 0, 0, time.UTC)
	}

	if err := archiver.Archive(context.Background(), "req-1", "conn-1", sampleResult()); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if len(store.keys) != 1 {
		t.Fatalf("expected one upload, got %d", len(store.keys))
	}
	if store.keys[0] != "results/conn-1/date=2026-08-30/req-1.parquet" {
		t.Fatalf("unexpected key %q", store.keys[0])
	}

	reader := parquet.NewGenericReader[archivedRow](bytes.NewReader(store.bodies[0]))
	defer func() { _ = reader.Close() }()
	rows := make([]archivedRow, 2)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("read rows = %d", count)
	}
	if rows[0].RequestID != "req-1" || rows[0].RowIndex != 0 {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if !strings.Contains(rows[1].RowJSON, `"category_name":"Condiments"`) {
		t.Fatalf("unexpected row payload %q", rows[1].RowJSON)
	}
}

func TestArchiveSkipsEmptyResult(t *testing.T) {
	store := &fakeObjectStore{}
	archiver := NewArchiver(store, testLogger())

	if err := archiver.Archive(context.Background(), "req-1", "conn-1", executor.Result{}); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if len(store.keys) != 0 {
		t.Fatalf("expected no upload for empty result")
	}
}

func TestArchiveSurfacesUploadFailure(t *testing.T) {
	store := &fakeObjectStore{err: errors.New("bucket gone")}
	archiver := NewArchiver(store, testLogger())

	if err := archiver.Archive(context.Background(), "req-1", "conn-1", sampleResult()); err == nil {
		t.Fatalf("expected upload error")
	}
}
