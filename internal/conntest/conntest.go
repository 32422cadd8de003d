// Package conntest verifies that a user-registered connection is reachable
// and records the outcome on the connection itself. Tests against the same
// connection are serialized so concurrent probes cannot flap the status.
package conntest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/cache"
	"github.com/arkwith7/text-to-sql-sub000/internal/store"
	"github.com/arkwith7/text-to-sql-sub000/internal/target"
)

// Outcome is what a single probe produced.
type Outcome struct {
	ConnectionID string                 `json:"connection_id"`
	Status       store.ConnectionStatus `json:"status"`
	LastError    string                 `json:"last_error,omitempty"`
	Latency      time.Duration          `json:"-"`
	LatencyMS    int64                  `json:"latency_ms"`
}

type Tester struct {
	Store   store.ConnectionStore
	Cache   cache.Cache
	Timeout time.Duration
	Logger  *slog.Logger

	// OpenDB is swappable for tests; defaults to target.Open.
	OpenDB func(conn store.Connection) (*sql.DB, error)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTester(connStore store.ConnectionStore, statusCache cache.Cache, timeout time.Duration, logger *slog.Logger) *Tester {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tester{
		Store:   connStore,
		Cache:   statusCache,
		Timeout: timeout,
		Logger:  logger,
		OpenDB:  target.Open,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Test probes the connection and persists the resulting status. The returned
// error is only for infrastructure failures (unknown connection, status
// store down); an unreachable target is a successful test with an error
// outcome.
func (t *Tester) Test(ctx context.Context, connectionID string) (Outcome, error) {
	lock := t.lock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	conn, err := t.Store.GetConnection(ctx, connectionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load connection %s: %w", connectionID, err)
	}

	if err := t.Store.SetStatus(ctx, connectionID, store.StatusTesting, ""); err != nil {
		return Outcome{}, fmt.Errorf("mark connection %s testing: %w", connectionID, err)
	}

	start := time.Now()
	probeErr := t.probe(ctx, conn)
	latency := time.Since(start)

	outcome := Outcome{ConnectionID: connectionID, Status: store.StatusConnected, Latency: latency, LatencyMS: latency.Milliseconds()}
	if probeErr != nil {
		outcome.Status = store.StatusError
		outcome.LastError = probeErr.Error()
		t.Logger.Warn("connection test failed", "connection_id", connectionID, "error", probeErr)
	}

	if err := t.Store.SetStatus(ctx, connectionID, outcome.Status, outcome.LastError); err != nil {
		return Outcome{}, fmt.Errorf("record status of connection %s: %w", connectionID, err)
	}
	t.cacheStatus(ctx, outcome)
	return outcome, nil
}

func (t *Tester) probe(ctx context.Context, conn store.Connection) error {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	db, err := t.OpenDB(conn)
	if err != nil {
		return fmt.Errorf("open target database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("connection to %s timed out after %s", conn.Host, t.Timeout)
		}
		return fmt.Errorf("ping target database: %w", err)
	}
	return nil
}

func (t *Tester) cacheStatus(ctx context.Context, outcome Outcome) {
	if t.Cache == nil {
		return
	}
	key := "connstatus:" + outcome.ConnectionID
	if err := t.Cache.Set(ctx, key, []byte(outcome.Status), time.Minute); err != nil {
		t.Logger.Warn("cache connection status failed", "connection_id", outcome.ConnectionID, "error", err)
	}
}

func (t *Tester) lock(connectionID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[connectionID] = lock
	}
	return lock
}
