package chat

import "sync"

type handlerEntry[T any] struct {
	id uint64
	fn T
}

// handlerSet is an insertion-ordered list of callbacks keyed by a monotonic token.
// Tokens are never reused, so a stale Unsubscribe cannot remove a later registration.
// Dispatch works on snapshots, so removal during iteration does not skip other handlers.
type handlerSet[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []handlerEntry[T]
}

func (s *handlerSet[T]) add(fn T) Unsubscribe {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, handlerEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() { s.remove(id) }
}

func (s *handlerSet[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, entry := range s.entries {
		if entry.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *handlerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	fns := make([]T, len(s.entries))
	for i, entry := range s.entries {
		fns[i] = entry.fn
	}
	return fns
}

func (s *handlerSet[T]) clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

func (s *handlerSet[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
