package audit

import (
	"context"
	"sync"
)

// Stream fans recorded entries out to live subscribers (dashboards, alert
// pipelines). Delivery is best-effort: the ledger itself is the durable
// record.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Entry
	next int
}

// NewStream initialises an empty fan-out.
func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan Entry)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// entries. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fans the entry out to all subscribers.
func (s *Stream) Publish(e Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the current subscriber count.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
