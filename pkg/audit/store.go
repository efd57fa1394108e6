package audit

import (
	"context"
	"sync"
)

// DefaultStoreCapacity bounds the in-memory event history.
const DefaultStoreCapacity = 1000

// MemoryStore keeps the most recent events in a bounded ring buffer for the
// admin query endpoint. Older events are overwritten once capacity is reached.
type MemoryStore struct {
	mu       sync.RWMutex
	events   []*Event
	next     int
	size     int
	capacity int
}

// NewMemoryStore creates a store holding up to capacity events
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &MemoryStore{
		events:   make([]*Event, capacity),
		capacity: capacity,
	}
}

// Record appends the event, overwriting the oldest once full
func (s *MemoryStore) Record(ctx context.Context, event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = event
	s.next = (s.next + 1) % s.capacity
	if s.size < s.capacity {
		s.size++
	}
}

// Close implements Recorder
func (s *MemoryStore) Close() error {
	return nil
}

// Query returns matching events, newest first.
func (s *MemoryStore) Query(filter Filter) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 || limit > s.size {
		limit = s.size
	}

	out := make([]*Event, 0, limit)
	for i := 1; i <= s.size; i++ {
		// Walk backwards from the most recently written slot.
		idx := (s.next - i + s.capacity) % s.capacity
		event := s.events[idx]
		if event == nil || !filter.Matches(event) {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the number of stored events
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
