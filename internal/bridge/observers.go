package bridge

import (
	"context"
	"sync"
)

// slot holds the single registered observer of one kind. Setting a new
// observer ends the previous one. Delivery happens under the lock so a set can
// never race a callback. A failing observer is dropped, not retried.
type slot[T any] struct {
	replay bool

	mu     sync.Mutex
	gen    uint64
	send   func(T) error
	cancel context.CancelFunc
	last   T
	filled bool
}

// attach installs send as the observer. The returned context ends when the
// observer is replaced or dropped; detach must be called once the caller stops.
func (s *slot[T]) attach(ctx context.Context, send func(T) error) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.send = send
	s.cancel = cancel

	if s.replay && s.filled {
		if err := send(s.last); err != nil {
			s.dropLocked()
		}
	}

	return ctx, func() {
		s.mu.Lock()
		if s.gen == gen {
			s.send = nil
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
}

// deliver hands v to the current observer, if any
func (s *slot[T]) deliver(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replay {
		s.last = v
		s.filled = true
	}
	if s.send == nil {
		return
	}
	if err := s.send(v); err != nil {
		s.dropLocked()
	}
}

// active reports whether an observer is registered
func (s *slot[T]) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send != nil
}

// clear ends the current observer
func (s *slot[T]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
}

func (s *slot[T]) dropLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	s.send = nil
	s.cancel = nil
}
