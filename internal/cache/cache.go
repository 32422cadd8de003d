package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: not found")

// Entry carries a stored value together with the moment it was stored and the
// TTL it was stored with, so callers can make their own staleness decisions.
type Entry struct {
	Value     []byte
	FetchedAt time.Time
	TTL       time.Duration
}

func (e Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.FetchedAt.Add(e.TTL))
}

// Cache is a shared key/value store with per-entry TTL. Implementations must
// be safe for concurrent use. Callers treat any error other than ErrNotFound
// as "cache unavailable" and recompute rather than failing the request.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}
