package schema

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arkwith7/text-to-sql-sub000/internal/cache"
	"github.com/arkwith7/text-to-sql-sub000/internal/observability"
	"github.com/arkwith7/text-to-sql-sub000/internal/store"
)

// Introspector reads the structural catalog of one target database.
type Introspector interface {
	Introspect(ctx context.Context, conn store.Connection) ([]Table, error)
}

// DocEnricher produces optional free-text documentation for a snapshot.
// Failures are logged and swallowed; resolution never depends on it.
type DocEnricher interface {
	Describe(ctx context.Context, tables []Table) (string, error)
}

type ResolverConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	RetryBackoff time.Duration
}

// Resolver is shared by every request; Resolve is safe for concurrent use.
type Resolver struct {
	Introspectors map[store.DBType]Introspector
	Cache         cache.Cache
	Enricher      DocEnricher
	Config        ResolverConfig
	Logger        *slog.Logger
	Clock         func() time.Time

	initOnce sync.Once
	flight   singleflight.Group
}

func cacheKey(connectionID string) string {
	return "schema:" + connectionID
}

// Resolve returns the schema snapshot for a connection. A cached snapshot
// within its TTL is served without touching the target database unless
// forceRefresh is set. When a refresh fails and an expired snapshot is still
// around, that snapshot is returned with Stale set instead of failing.
func (r *Resolver) Resolve(ctx context.Context, conn store.Connection, forceRefresh bool) (Snapshot, error) {
	r.ensureDefaults()
	now := r.Clock()

	cached, hasCached := r.loadCached(ctx, conn.ID)
	if hasCached && !forceRefresh && !cached.Expired(now) {
		observability.IncrementSchemaCacheHit()
		return cached, nil
	}
	observability.IncrementSchemaCacheMiss()

	// Concurrent misses for the same connection share one catalog fetch.
	value, err, _ := r.flight.Do(conn.ID, func() (any, error) {
		snapshot, err := r.fetchWithRetry(ctx, conn)
		if err != nil {
			return Snapshot{}, err
		}
		r.storeCached(ctx, snapshot)
		return snapshot, nil
	})
	if err != nil {
		if hasCached {
			if r.Logger != nil {
				r.Logger.WarnContext(ctx, "schema refresh failed, serving stale snapshot",
					slog.String("connection_id", conn.ID),
					slog.Any("error", err),
				)
			}
			cached.Stale = true
			return cached, nil
		}
		return Snapshot{}, err
	}
	return value.(Snapshot), nil
}

// Invalidate drops the cached snapshot for a connection.
func (r *Resolver) Invalidate(ctx context.Context, connectionID string) {
	r.ensureDefaults()
	if r.Cache == nil {
		return
	}
	if err := r.Cache.Delete(ctx, cacheKey(connectionID)); err != nil && r.Logger != nil {
		r.Logger.WarnContext(ctx, "schema cache invalidation failed",
			slog.String("connection_id", connectionID),
			slog.Any("error", err),
		)
	}
}

func (r *Resolver) fetchWithRetry(ctx context.Context, conn store.Connection) (Snapshot, error) {
	snapshot, err := r.fetchOnce(ctx, conn)
	if err == nil {
		return snapshot, nil
	}
	if ctx.Err() != nil {
		return Snapshot{}, &FetchError{ConnectionID: conn.ID, Err: err}
	}

	// One retry with backoff; anything beyond that is the caller's problem.
	select {
	case <-ctx.Done():
		return Snapshot{}, &FetchError{ConnectionID: conn.ID, Err: ctx.Err()}
	case <-time.After(r.Config.RetryBackoff):
	}

	snapshot, retryErr := r.fetchOnce(ctx, conn)
	if retryErr != nil {
		return Snapshot{}, &FetchError{ConnectionID: conn.ID, Err: retryErr}
	}
	return snapshot, nil
}

func (r *Resolver) fetchOnce(ctx context.Context, conn store.Connection) (Snapshot, error) {
	introspector, ok := r.Introspectors[conn.DBType]
	if !ok {
		return Snapshot{}, errors.New("no introspector for db type " + string(conn.DBType))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.Config.FetchTimeout)
	defer cancel()

	tables, err := introspector.Introspect(fetchCtx, conn)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{
		ConnectionID: conn.ID,
		Tables:       tables,
		FetchedAt:    r.Clock().UTC(),
		TTL:          r.Config.TTL,
	}

	if r.Enricher != nil {
		docs, err := r.Enricher.Describe(ctx, tables)
		if err != nil {
			if r.Logger != nil {
				r.Logger.WarnContext(ctx, "schema documentation enrichment failed",
					slog.String("connection_id", conn.ID),
					slog.Any("error", err),
				)
			}
		} else {
			snapshot.Documentation = docs
		}
	}

	return snapshot, nil
}

// loadCached reads the cached snapshot regardless of its age. Snapshots are
// stored without a cache-level TTL so an expired one survives as a stale
// fallback; staleness is judged from the snapshot's own FetchedAt/TTL.
func (r *Resolver) loadCached(ctx context.Context, connectionID string) (Snapshot, bool) {
	if r.Cache == nil {
		return Snapshot{}, false
	}
	entry, err := r.Cache.Get(ctx, cacheKey(connectionID))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) && r.Logger != nil {
			r.Logger.WarnContext(ctx, "schema cache read failed", slog.Any("error", err))
		}
		return Snapshot{}, false
	}
	var snapshot Snapshot
	if err := json.Unmarshal(entry.Value, &snapshot); err != nil {
		return Snapshot{}, false
	}
	return snapshot, true
}

func (r *Resolver) storeCached(ctx context.Context, snapshot Snapshot) {
	if r.Cache == nil {
		return
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := r.Cache.Set(ctx, cacheKey(snapshot.ConnectionID), encoded, 0); err != nil && r.Logger != nil {
		r.Logger.WarnContext(ctx, "schema cache write failed",
			slog.String("connection_id", snapshot.ConnectionID),
			slog.Any("error", err),
		)
	}
}

// ensureDefaults fills unset fields exactly once; later Resolve calls only
// read them, so the resolver stays safe under concurrent use.
func (r *Resolver) ensureDefaults() {
	r.initOnce.Do(func() {
		if r.Clock == nil {
			r.Clock = time.Now
		}
		if r.Config.TTL <= 0 {
			r.Config.TTL = 10 * time.Minute
		}
		if r.Config.FetchTimeout <= 0 {
			r.Config.FetchTimeout = 10 * time.Second
		}
		if r.Config.RetryBackoff <= 0 {
			r.Config.RetryBackoff = 500 * time.Millisecond
		}
	})
}
