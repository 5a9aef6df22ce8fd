package engine

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"

	"recurswap/internal/eventbus"
	logx "recurswap/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			gs := s.groups.get(qt.task.Group, qt.task.GroupLimit)
			if gs != nil && !gs.tryAcquire() {
				// Group at capacity: requeue and look at other work.
				select {
				case queue <- qt:
				default:
					s.releaseKey(qt.task.Key, qt.state)
					s.onQueueFullDropped(time.Now(), qt.task, queue)
				}
				runtime.Gosched()
				continue
			}

			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
			if gs != nil {
				gs.release()
			}
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	defer s.releaseKey(qt.task.Key, qt.state)
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	t := qt.task
	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onStaleDropped(start, t, queueDelay)
		s.record(cfg, HistoryItem{ID: t.ID, Name: t.Name, Key: t.Key, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		return
	}

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("key", t.Key), logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.TaskStarted, TaskEvent{ID: t.ID, Name: t.Name, Key: t.Key, Started: start, QueueDelay: queueDelay})

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if qt.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
	}
	err := func() (err error) {
		// One bad task must not kill the worker.
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		return t.Run(runCtx)
	}()
	cancel()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Key: t.Key, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Key: t.Key, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("task.failed", logx.String("task", t.Name), logx.String("key", t.Key), logx.Err(err), logx.Duration("dur", dur))
		s.publish(eventbus.TaskFailed, ev)
	} else {
		lvl := s.log.Debug
		if dur >= 750*time.Millisecond {
			lvl = s.log.Info
		}
		lvl("task.completed", logx.String("task", t.Name), logx.String("key", t.Key), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		s.publish(eventbus.TaskFinished, ev)
	}

	s.circuitRecordResult(time.Now(), circuitKey(t), cfg, err)
	s.record(cfg, item)
}
