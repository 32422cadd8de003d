package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Cache with a background janitor that evicts
// expired entries. Close stops the janitor.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	clock   func() time.Time
	done    chan struct{}
	once    sync.Once
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

func NewMemoryWithClock(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	m := &Memory{
		entries: map[string]Entry{},
		clock:   clock,
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	if entry.Expired(m.clock()) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = Entry{Value: value, FetchedAt: m.clock(), TTL: ttl}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	var current int64
	if entry, ok := m.entries[key]; ok && !entry.Expired(now) {
		parsed, err := strconv.ParseInt(string(entry.Value), 10, 64)
		if err == nil {
			current = parsed
		}
		// Counters keep their original window: FetchedAt is not refreshed.
		next := current + delta
		m.entries[key] = Entry{Value: []byte(strconv.FormatInt(next, 10)), FetchedAt: entry.FetchedAt, TTL: entry.TTL}
		return next, nil
	}

	next := current + delta
	m.entries[key] = Entry{Value: []byte(strconv.FormatInt(next, 10)), FetchedAt: now, TTL: ttl}
	return next, nil
}

func (m *Memory) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := m.clock()
			m.mu.Lock()
			for key, entry := range m.entries {
				if entry.Expired(now) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
