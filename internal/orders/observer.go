package orders

import (
	gosync "sync"

	"pos-sync/internal/domain"
)

// Handle identifies one subscription for later removal.
type Handle int

// Observer receives domain events. Callbacks run on the mutating goroutine
// after the manager's lock is released; they must not block for long.
type Observer func(domain.Event)

type observerSet struct {
	mu   gosync.RWMutex
	m    map[Handle]Observer
	next Handle
}

func newObserverSet() *observerSet {
	return &observerSet{m: make(map[Handle]Observer)}
}

func (s *observerSet) add(fn Observer) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.m[h] = fn
	return h
}

func (s *observerSet) remove(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, h)
}

func (s *observerSet) emit(ev domain.Event) {
	s.mu.RLock()
	fns := make([]Observer, 0, len(s.m))
	for _, fn := range s.m {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
