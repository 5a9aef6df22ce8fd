package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"recurswap/internal/eventbus"
	"recurswap/internal/swap"
	"recurswap/internal/task/engine"
	logx "recurswap/pkg/logx"
)

// Config controls the trigger.
type Config struct {
	Enabled  bool
	Tick     string // see ParseTick
	Timezone string // IANA TZ, e.g. "Africa/Johannesburg"
}

// DueSource lists schedules due at a point in time, ordered by due time then ID.
type DueSource interface {
	Due(now time.Time) []swap.Schedule
}

// Enqueuer accepts tasks without blocking.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// TaskFactory builds the engine task that attempts one schedule.
type TaskFactory func(s swap.Schedule) engine.Task

// ScanResult summarizes one Scan.
type ScanResult struct {
	At       time.Time `json:"at"`
	Due      int       `json:"due"`
	Enqueued int       `json:"enqueued"`
	Overlap  int       `json:"overlap"`
	Rejected int       `json:"rejected"`
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	now func() time.Time

	src     DueSource
	eng     Enqueuer
	newTask TaskFactory

	parser  cron.Parser
	c       *cron.Cron
	entryID cron.EntryID
	spec    TickSpec

	last ScanResult

	// Enqueue warnings are throttled per schedule ID.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Snapshot struct {
	Enabled  bool       `json:"enabled"`
	Running  bool       `json:"running"`
	Timezone string     `json:"timezone"`
	Tick     string     `json:"tick"`
	Next     time.Time  `json:"next"`
	Prev     time.Time  `json:"prev"`
	LastScan ScanResult `json:"last_scan"`
}
