package storage

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

// Store is the persistence API used by the registry and the ledger.
//
// LoadExecutions returns records in append order.
type Store interface {
	SaveSchedule(ctx context.Context, s swap.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	LoadSchedules(ctx context.Context) ([]swap.Schedule, error)

	AppendExecution(ctx context.Context, r swap.ExecutionRecord) error
	LoadExecutions(ctx context.Context) ([]swap.ExecutionRecord, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
