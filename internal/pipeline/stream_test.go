package pipeline

import (
	"testing"
	"time"
)

func TestStreamSequenceIsGapless(t *testing.T) {
	s := newStream(16, nil)
	for i := 0; i < 5; i++ {
		s.Publish(EventAnalyzing, nil)
	}
	events := s.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, event := range events {
		if event.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, event.Seq)
		}
	}
}

func TestStreamDropsOldestWhenFull(t *testing.T) {
	s := newStream(3, nil)
	for i := 0; i < 5; i++ {
		s.Publish(EventAnalyzing, map[string]any{"i": i})
	}
	events := s.Events()
	if len(events) != 3 {
		t.Fatalf("expected bounded buffer of 3, got %d", len(events))
	}
	if events[0].Seq != 3 || events[2].Seq != 5 {
		t.Fatalf("expected oldest events dropped, got seqs %d..%d", events[0].Seq, events[2].Seq)
	}
}

func TestStreamSubscribeReplaysAndFollows(t *testing.T) {
	s := newStream(16, nil)
	s.Publish(EventQueryStarted, nil)
	s.Publish(EventAnalyzing, nil)

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(EventGeneratingSQL, nil)
	s.Publish(EventQueryCompleted, nil)

	var got []string
	for event := range ch {
		got = append(got, event.Event)
	}
	want := []string{EventQueryStarted, EventAnalyzing, EventGeneratingSQL, EventQueryCompleted}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestStreamTerminalEventClosesStream(t *testing.T) {
	s := newStream(16, nil)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(EventError, nil)
	s.Publish(EventQueryCompleted, nil)

	var got []StreamEvent
	for event := range ch {
		got = append(got, event)
	}
	if len(got) != 1 || got[0].Event != EventError {
		t.Fatalf("expected single terminal event, got %v", got)
	}
	if !s.Closed() {
		t.Fatalf("stream should be closed after terminal event")
	}

	late, lateCancel := s.Subscribe()
	defer lateCancel()
	event, ok := <-late
	if !ok || event.Event != EventError {
		t.Fatalf("late subscriber should replay terminal event, got %v ok=%v", event, ok)
	}
	if _, ok := <-late; ok {
		t.Fatalf("late subscriber channel should be closed after replay")
	}
}

func TestStreamSlowReaderDoesNotBlockProducer(t *testing.T) {
	s := newStream(4, nil)
	_, cancel := s.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(EventAnalyzing, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("producer blocked on an unread subscriber")
	}
}

func TestStreamUnsubscribeIsIdempotent(t *testing.T) {
	s := newStream(4, nil)
	_, cancel := s.Subscribe()
	cancel()
	cancel()
	// The stream still accepts events with no subscribers left.
	s.Publish(EventAnalyzing, nil)
}
