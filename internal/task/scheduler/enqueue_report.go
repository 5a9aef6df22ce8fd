package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"

	"recurswap/internal/task/engine"
	logx "recurswap/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func isOverlap(err error) bool { return errors.Is(err, engine.ErrOverlapSkip) }

// reportEnqueueError logs a failed enqueue. The schedule stays due either way
// and is offered again on the next tick.
func (s *Service) reportEnqueueError(id string, err error) {
	if err == nil {
		return
	}
	// An attempt for this schedule is still queued or running.
	if isOverlap(err) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", id), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[id]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[id] = now
	s.enqMu.Unlock()

	// Circuit open is routine while a venue cools down.
	if errors.Is(err, engine.ErrCircuitOpen) {
		s.log.Info("schedule deferred: circuit open", logx.String("schedule", id))
		return
	}
	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", id), logx.Err(err))
}
