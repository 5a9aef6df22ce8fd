package engine

import (
	"strings"
	"sync"
)

// groupSemaphore is a channel semaphore pre-filled with limit tokens.
// The limit is fixed for the life of the semaphore.
type groupSemaphore struct {
	ch chan struct{}
}

func newGroupSemaphore(limit int) *groupSemaphore {
	if limit <= 0 {
		limit = 1
	}
	gs := &groupSemaphore{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		gs.ch <- struct{}{}
	}
	return gs
}

func (g *groupSemaphore) tryAcquire() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

func (g *groupSemaphore) release() {
	// Never block on release.
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

type groupStore struct {
	mu     sync.Mutex
	groups map[string]*groupSemaphore
}

// get returns the semaphore for key, or nil when grouping is off. A later
// call with a different limit keeps the first-seen limit.
func (s *groupStore) get(key string, limit int) *groupSemaphore {
	k := strings.TrimSpace(key)
	if limit <= 0 || k == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups == nil {
		s.groups = make(map[string]*groupSemaphore)
	}
	gs := s.groups[k]
	if gs == nil {
		gs = newGroupSemaphore(limit)
		s.groups[k] = gs
	}
	return gs
}
