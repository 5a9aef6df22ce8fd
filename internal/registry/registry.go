// Package registry owns the set of schedules.
//
// Every mutation is atomic per schedule, persisted through storage before it
// becomes visible, and audited. Reads return copies.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"recurswap/internal/eventbus"
	"recurswap/internal/storage"
	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

// Actors recorded in the audit trail.
const (
	ActorAPI       = "api"
	ActorScheduler = "scheduler"
	ActorSystem    = "system"
)

type Options struct {
	Store    storage.Store
	Log      logx.Logger
	Bus      eventbus.Bus
	Notifier swap.Notifier

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string

	// MaxRetries applies to schedules created without an override.
	MaxRetries int
}

type entry struct {
	mu sync.Mutex
	s  swap.Schedule

	// deleted is set under mu once the entry leaves the map.
	deleted bool
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store    storage.Store
	log      logx.Logger
	bus      eventbus.Bus
	notifier swap.Notifier
	now      func() time.Time
	newID    func() string

	maxMu      sync.RWMutex
	maxRetries int

	hookMu   sync.RWMutex
	onDelete []func(id string)
}

func New(opts Options) *Registry {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Notifier == nil {
		opts.Notifier = swap.NopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Registry{
		entries:    map[string]*entry{},
		store:      opts.Store,
		log:        opts.Log,
		bus:        opts.Bus,
		notifier:   opts.Notifier,
		now:        opts.Now,
		newID:      opts.NewID,
		maxRetries: opts.MaxRetries,
	}
}

// SetMaxRetries changes the default retry budget for schedules created later.
func (r *Registry) SetMaxRetries(n int) {
	if n < 0 {
		n = 0
	}
	r.maxMu.Lock()
	r.maxRetries = n
	r.maxMu.Unlock()
}

func (r *Registry) defaultMaxRetries() int {
	r.maxMu.RLock()
	defer r.maxMu.RUnlock()
	return r.maxRetries
}

// Load replaces the in-memory set with the stored schedules.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.LoadSchedules(ctx)
	if err != nil {
		return swap.Persistence(err, "load schedules")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry, len(list))
	for _, s := range list {
		r.entries[s.ID] = &entry{s: s}
	}
	r.log.Info("schedules loaded", logx.Int("count", len(list)))
	return nil
}

// Flush writes every schedule back to storage. Used at teardown.
func (r *Registry) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	var errs error
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		s, deleted := e.s, e.deleted
		e.mu.Unlock()
		if deleted {
			continue
		}
		if err := r.store.SaveSchedule(ctx, s); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "flush %s", s.ID))
		}
	}
	if errs != nil {
		return swap.Persistence(errs, "flush schedules")
	}
	return nil
}

func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return nil, swap.NotFound(id)
	}
	return e, nil
}

// Create validates def and stores a new active schedule.
func (r *Registry) Create(ctx context.Context, def swap.Definition) (swap.Schedule, error) {
	now := r.now()
	s, err := swap.NewSchedule(r.newID(), def, now, r.defaultMaxRetries())
	if err != nil {
		return swap.Schedule{}, err
	}
	if err := r.insert(ctx, s, "create"); err != nil {
		return swap.Schedule{}, err
	}
	r.log.Info("schedule created",
		logx.String("id", s.ID),
		logx.String("asset", string(s.SourceAsset)),
		logx.String("amount", s.AmountPerExecution.String()),
		logx.String("frequency", string(s.Frequency)),
		logx.Time("next", *s.NextExecutionAt),
	)
	eventbus.Emit(r.bus, eventbus.SwapCreated, s.Clone())
	r.notifier.Notify(ctx, swap.Notice{Kind: swap.NoticeCreated, Schedule: s.Clone()})
	return s.Clone(), nil
}

// Duplicate creates a copy of id with a fresh ID and no history.
func (r *Registry) Duplicate(ctx context.Context, id string) (swap.Schedule, error) {
	src, err := r.Get(id)
	if err != nil {
		return swap.Schedule{}, err
	}
	s, err := src.Duplicate(r.newID(), r.now())
	if err != nil {
		return swap.Schedule{}, err
	}
	if err := r.insert(ctx, s, "duplicate"); err != nil {
		return swap.Schedule{}, err
	}
	r.log.Info("schedule duplicated", logx.String("id", s.ID), logx.String("from", id))
	eventbus.Emit(r.bus, eventbus.SwapCreated, s.Clone())
	r.notifier.Notify(ctx, swap.Notice{Kind: swap.NoticeCreated, Schedule: s.Clone()})
	return s.Clone(), nil
}

func (r *Registry) insert(ctx context.Context, s swap.Schedule, action string) error {
	if r.store != nil {
		if err := r.store.SaveSchedule(ctx, s); err != nil {
			return swap.Persistence(err, "save schedule")
		}
	}
	r.mu.Lock()
	r.entries[s.ID] = &entry{s: s.Clone()}
	r.mu.Unlock()
	r.audit(ctx, ActorAPI, action, s, nil)
	return nil
}

func (r *Registry) Pause(ctx context.Context, id string) (swap.Schedule, error) {
	s, err := r.Mutate(ctx, id, ActorAPI, "pause", func(s *swap.Schedule) error {
		return s.Pause(r.now())
	})
	if err != nil {
		return swap.Schedule{}, err
	}
	r.log.Info("schedule paused", logx.String("id", id))
	eventbus.Emit(r.bus, eventbus.SwapPaused, s)
	return s, nil
}

func (r *Registry) Resume(ctx context.Context, id string) (swap.Schedule, error) {
	s, err := r.Mutate(ctx, id, ActorAPI, "resume", func(s *swap.Schedule) error {
		return s.Resume(r.now())
	})
	if err != nil {
		return swap.Schedule{}, err
	}
	r.log.Info("schedule resumed", logx.String("id", id), logx.Time("next", *s.NextExecutionAt))
	eventbus.Emit(r.bus, eventbus.SwapResumed, s)
	return s, nil
}

// Delete removes the schedule. Its execution history stays in the ledger.
func (r *Registry) Delete(ctx context.Context, id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return swap.NotFound(id)
	}
	if r.store != nil {
		if err := r.store.DeleteSchedule(ctx, id); err != nil {
			return swap.Persistence(err, "delete schedule")
		}
	}
	e.deleted = true
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()

	r.audit(ctx, ActorAPI, "delete", e.s, nil)
	r.log.Info("schedule deleted", logx.String("id", id))
	eventbus.Emit(r.bus, eventbus.SwapDeleted, id)

	r.hookMu.RLock()
	hooks := r.onDelete
	r.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// OnDelete registers fn to run after a schedule is deleted. fn runs with the
// schedule's lock held and must not call back into the registry for id.
func (r *Registry) OnDelete(fn func(id string)) {
	if fn == nil {
		return
	}
	r.hookMu.Lock()
	r.onDelete = append(r.onDelete, fn)
	r.hookMu.Unlock()
}

// Mutate runs fn on a copy of the schedule under its lock and commits the
// copy once storage accepted it. fn errors and storage errors leave the
// schedule unchanged.
func (r *Registry) Mutate(ctx context.Context, id, actor, action string, fn func(*swap.Schedule) error) (swap.Schedule, error) {
	e, err := r.lookup(id)
	if err != nil {
		return swap.Schedule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return swap.Schedule{}, swap.NotFound(id)
	}

	next := e.s.Clone()
	if err := fn(&next); err != nil {
		return swap.Schedule{}, err
	}
	if r.store != nil {
		if err := r.store.SaveSchedule(ctx, next); err != nil {
			perr := swap.Persistence(err, "save schedule")
			r.audit(ctx, actor, action, e.s, perr)
			return swap.Schedule{}, perr
		}
	}
	e.s = next
	r.audit(ctx, actor, action, next, nil)
	return next.Clone(), nil
}

func (r *Registry) Get(id string) (swap.Schedule, error) {
	e, err := r.lookup(id)
	if err != nil {
		return swap.Schedule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return swap.Schedule{}, swap.NotFound(id)
	}
	return e.s.Clone(), nil
}

// List returns all schedules ordered by creation time, then ID.
func (r *Registry) List() []swap.Schedule {
	entries := r.snapshotEntries()
	out := make([]swap.Schedule, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.s.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Due returns the schedules that should be attempted at now, ordered by due
// time then ID.
func (r *Registry) Due(now time.Time) []swap.Schedule {
	var out []swap.Schedule
	for _, s := range r.List() {
		if s.IsDue(now) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := *out[i].NextExecutionAt, *out[j].NextExecutionAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of schedules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) audit(ctx context.Context, actor, action string, s swap.Schedule, err error) {
	if r.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:         r.now(),
		Actor:      actor,
		Action:     action,
		ScheduleID: s.ID,
		Status:     s.DisplayStatus(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := r.store.AppendAudit(ctx, e); aerr != nil {
		r.log.Warn("audit append failed", logx.String("id", s.ID), logx.String("action", action), logx.Err(aerr))
	}
}
