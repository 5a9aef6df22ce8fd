package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"recurswap/internal/eventbus"
	logx "recurswap/pkg/logx"
)

type Options struct {
	Log     logx.Logger
	Bus     eventbus.Bus
	Source  DueSource
	Engine  Enqueuer
	NewTask TaskFactory
	// Now is injectable for tests.
	Now func() time.Time
}

func New(cfg Config, opts Options) *Service {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		cfg:     cfg,
		log:     opts.Log,
		bus:     opts.Bus,
		now:     opts.Now,
		src:     opts.Source,
		eng:     opts.Engine,
		newTask: opts.NewTask,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastEnqWarn: map[string]time.Time{},
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config; a running trigger re-registers when the tick or
// zone changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	if _, err := ParseTick(cfg.Tick); err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	changed := strings.TrimSpace(prev.Tick) != strings.TrimSpace(cfg.Tick) ||
		strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone)
	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case running && changed:
		s.Stop(ctx)
		return s.Start(ctx)
	case !running && cfg.Enabled && !prev.Enabled:
		return s.Start(ctx)
	}
	return nil
}

// Start registers the tick and runs one scan right away so schedules that
// fell due while the process was down are attempted once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return nil
	}
	spec, err := ParseTick(s.cfg.Tick)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	loc := s.loadLocationLocked()
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	id, err := c.AddFunc(spec.CronSpec(), func() { s.Scan(s.now()) })
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.loc = loc
	s.c = c
	s.entryID = id
	s.spec = spec
	c.Start()
	s.mu.Unlock()

	s.log.Info("trigger started", logx.String("tick", spec.CronSpec()), logx.String("tz", loc.String()))
	if ctx.Err() == nil {
		s.Scan(s.now())
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entryID = 0
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger stopped")
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// Scan enqueues every schedule due at now and returns immediately.
func (s *Service) Scan(now time.Time) ScanResult {
	res := ScanResult{At: now}
	if s.src == nil || s.eng == nil || s.newTask == nil {
		return res
	}
	due := s.src.Due(now)
	res.Due = len(due)
	for _, sc := range due {
		err := s.eng.Enqueue(s.newTask(sc))
		switch {
		case err == nil:
			res.Enqueued++
		case isOverlap(err):
			res.Overlap++
		default:
			res.Rejected++
		}
		s.reportEnqueueError(sc.ID, err)
	}

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	if res.Due > 0 {
		s.log.Debug("trigger scan", logx.Int("due", res.Due), logx.Int("enqueued", res.Enqueued), logx.Int("overlap", res.Overlap), logx.Int("rejected", res.Rejected))
	}
	eventbus.Emit(s.bus, eventbus.TriggerScanned, res)
	return res
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Tick:     s.spec.CronSpec(),
		LastScan: s.last,
	}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	if s.c != nil && s.entryID != 0 {
		e := s.c.Entry(s.entryID)
		snap.Next = e.Next
		snap.Prev = e.Prev
	}
	return snap
}
