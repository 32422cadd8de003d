package pipeline

import (
	"sync"
	"time"

	"github.com/arkwith7/text-to-sql-sub000/internal/observability"
)

// Stream is the event log for one query request: a single producer (the
// pipeline goroutine) and any number of readers. The retained buffer is
// bounded with a drop-oldest policy, and publishing never blocks on a slow
// or vanished reader.
type Stream struct {
	mu          sync.Mutex
	buffer      []StreamEvent
	capacity    int
	nextSeq     uint64
	subscribers map[int]chan StreamEvent
	nextSubID   int
	closed      bool
	clock       func() time.Time
}

func newStream(capacity int, clock func() time.Time) *Stream {
	if capacity <= 0 {
		capacity = 64
	}
	if clock == nil {
		clock = time.Now
	}
	return &Stream{
		capacity:    capacity,
		nextSeq:     1,
		subscribers: make(map[int]chan StreamEvent),
		clock:       clock,
	}
}

// Publish appends an event and fans it out. Publishing a terminal event
// closes the stream; publishing after that is a no-op.
func (s *Stream) Publish(event string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	streamEvent := StreamEvent{
		Event:     event,
		Timestamp: eventTimestamp(s.clock()),
		Seq:       s.nextSeq,
		Data:      data,
	}
	s.nextSeq++

	if len(s.buffer) >= s.capacity {
		s.buffer = s.buffer[1:]
		observability.IncrementDroppedEvents()
	}
	s.buffer = append(s.buffer, streamEvent)

	for _, subscriber := range s.subscribers {
		offer(subscriber, streamEvent)
	}

	if streamEvent.Terminal() {
		s.closed = true
		for id, subscriber := range s.subscribers {
			close(subscriber)
			delete(s.subscribers, id)
		}
	}
}

// offer delivers without ever blocking the producer: when the reader's
// channel is full its oldest pending event is dropped to make room.
func offer(subscriber chan StreamEvent, event StreamEvent) {
	for {
		select {
		case subscriber <- event:
			return
		default:
		}
		select {
		case <-subscriber:
			observability.IncrementDroppedEvents()
		default:
		}
	}
}

// Subscribe replays the retained events and then delivers live ones. The
// channel is closed when the stream reaches its terminal event. Cancel is
// safe to call more than once.
func (s *Stream) Subscribe() (<-chan StreamEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan StreamEvent, s.capacity+len(s.buffer))
	for _, event := range s.buffer {
		ch <- event
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if subscriber, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(subscriber)
			}
		})
	}
	return ch, cancel
}

// Events returns a copy of the retained log.
func (s *Stream) Events() []StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]StreamEvent, len(s.buffer))
	copy(events, s.buffer)
	return events
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
