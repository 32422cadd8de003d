package pipeline

import (
	"sync"
	"time"
)

// Broker tracks the live stream for each in-flight request. Streams are
// retained for a short grace period after their terminal event so a reader
// that reconnects immediately can still replay the log.
type Broker struct {
	mu         sync.Mutex
	streams    map[string]*Stream
	BufferSize int
	Retention  time.Duration
	clock      func() time.Time
}

func NewBroker(bufferSize int) *Broker {
	return &Broker{
		streams:    make(map[string]*Stream),
		BufferSize: bufferSize,
		Retention:  30 * time.Second,
		clock:      time.Now,
	}
}

func (b *Broker) Open(requestID string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream := newStream(b.BufferSize, b.clock)
	b.streams[requestID] = stream
	return stream
}

func (b *Broker) Get(requestID string) (*Stream, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream, ok := b.streams[requestID]
	return stream, ok
}

// Release schedules removal of a finished stream after the retention window.
func (b *Broker) Release(requestID string) {
	retention := b.Retention
	if retention <= 0 {
		b.remove(requestID)
		return
	}
	time.AfterFunc(retention, func() { b.remove(requestID) })
}

func (b *Broker) remove(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, requestID)
}
