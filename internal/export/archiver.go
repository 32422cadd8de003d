// Package export archives completed result sets as Parquet objects.
// Archival is best-effort bookkeeping: it never blocks or fails a query.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/arkwith7/text-to-sql-sub000/internal/executor"
	"github.com/arkwith7/text-to-sql-sub000/internal/storage"
)

// archivedRow flattens one result row. Cell values keep their JSON shape so
// heterogeneous result sets share a single Parquet schema.
type archivedRow struct {
	RequestID  string `parquet:"request_id"`
	RowIndex   int64  `parquet:"row_index"`
	ColumnsCSV string `parquet:"columns"`
	RowJSON    string `parquet:"row_json"`
	ArchivedAt int64  `parquet:"archived_at_unix_ms"`
}

type Archiver struct {
	Store   storage.ObjectStore
	Timeout time.Duration
	Logger  *slog.Logger
	clock   func() time.Time
}

func NewArchiver(store storage.ObjectStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		Store:   store,
		Timeout: 15 * time.Second,
		Logger:  logger,
		clock:   time.Now,
	}
}

// Archive encodes the result set and uploads it under the per-connection
// result layout.
func (a *Archiver) Archive(ctx context.Context, requestID, connectionID string, execResult executor.Result) error {
	if a.Store == nil {
		return nil
	}
	if execResult.RowCount == 0 {
		return nil
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	now := a.now()
	data, err := encodeResult(requestID, execResult, now)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", requestID, err)
	}

	key, err := storage.BuildResultPath(connectionID, requestID, now)
	if err != nil {
		return err
	}
	info, err := a.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload result %s: %w", requestID, err)
	}
	a.Logger.Debug("result archived", "request_id", requestID, "key", info.Key, "bytes", info.Size)
	return nil
}

func (a *Archiver) now() time.Time {
	if a.clock == nil {
		return time.Now()
	}
	return a.clock()
}

func encodeResult(requestID string, execResult executor.Result, archivedAt time.Time) ([]byte, error) {
	columns, err := json.Marshal(execResult.Columns)
	if err != nil {
		return nil, fmt.Errorf("marshal columns: %w", err)
	}

	rows := make([]archivedRow, 0, len(execResult.Rows))
	for i, row := range execResult.Rows {
		cells := make(map[string]any, len(execResult.Columns))
		for j, column := range execResult.Columns {
			if j < len(row) {
				cells[column] = row[j]
			}
		}
		payload, err := json.Marshal(cells)
		if err != nil {
			return nil, fmt.Errorf("marshal row %d: %w", i, err)
		}
		rows = append(rows, archivedRow{
			RequestID:  requestID,
			RowIndex:   int64(i),
			ColumnsCSV: string(columns),
			RowJSON:    string(payload),
			ArchivedAt: archivedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[archivedRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
