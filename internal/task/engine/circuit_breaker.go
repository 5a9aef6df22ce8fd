package engine

import (
	"strings"
	"sync"
	"time"
)

// circuitState tracks consecutive failures for one circuit key.
//
// On success the circuit closes and failures reset. On failure the count
// grows and, once it reaches the trip threshold, the circuit opens for an
// exponentially increasing cooldown.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

// getLocked requires s.mu.
func (s *circuitStore) getLocked(key string) *circuitState {
	if s.m == nil {
		s.m = make(map[string]*circuitState)
	}
	st := s.m[key]
	if st == nil {
		st = &circuitState{}
		s.m[key] = st
	}
	return st
}

func circuitKey(t Task) string {
	if k := strings.TrimSpace(t.CircuitKey); k != "" {
		return k
	}
	return t.Name
}

func (st *circuitState) maybeReset(now time.Time, cfg Config) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > cfg.CircuitResetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (s *Service) circuitIsOpen(now time.Time, key string, cfg Config) (bool, time.Time) {
	if cfg.CircuitTripFailures < 0 {
		return false, time.Time{}
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	st := s.circuits.getLocked(key)
	st.maybeReset(now, cfg)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (s *Service) circuitRecordResult(now time.Time, key string, cfg Config, err error) {
	if cfg.CircuitTripFailures < 0 || isNeutral(err) {
		return
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	st := s.circuits.getLocked(key)
	st.maybeReset(now, cfg)

	if err == nil {
		st.fails = 0
		st.openUntil = time.Time{}
		st.lastFailure = time.Time{}
		return
	}

	st.fails++
	st.lastFailure = now
	if st.fails < cfg.CircuitTripFailures {
		return
	}

	d := cfg.CircuitBaseDelay
	for i := 0; i < st.fails-cfg.CircuitTripFailures; i++ {
		d *= 2
		if d >= cfg.CircuitMaxDelay {
			break
		}
	}
	if d > cfg.CircuitMaxDelay {
		d = cfg.CircuitMaxDelay
	}
	st.openUntil = now.Add(d)
}

func (s *Service) circuitSnapshot(now time.Time, cfg Config) (total, open int) {
	if cfg.CircuitTripFailures < 0 {
		return 0, 0
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	total = len(s.circuits.m)
	for _, st := range s.circuits.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}

// CircuitOpen reports whether key's circuit is currently open.
func (s *Service) CircuitOpen(key string) bool {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	open, _ := s.circuitIsOpen(time.Now(), key, cfg)
	return open
}
