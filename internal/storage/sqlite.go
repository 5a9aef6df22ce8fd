package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir sqlite dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	q, err := loadMigration("sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q)
	return errors.Wrap(err, "sqlite migrate")
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveSchedule(ctx context.Context, sc swap.Schedule) error {
	doc, err := encodeSchedule(sc)
	if err != nil {
		return err
	}
	var next any
	if sc.NextExecutionAt != nil {
		next = sc.NextExecutionAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, status, next_execution_at, created_at, updated_at, doc)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   next_execution_at=excluded.next_execution_at,
		   updated_at=excluded.updated_at,
		   doc=excluded.doc`,
		sc.ID, string(sc.Status), next,
		sc.CreatedAt.UTC().Format(time.RFC3339Nano), sc.UpdatedAt.UTC().Format(time.RFC3339Nano), doc,
	)
	return errors.Wrap(err, "sqlite save schedule")
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return errors.Wrap(err, "sqlite delete schedule")
}

func (s *sqliteStore) LoadSchedules(ctx context.Context) ([]swap.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite load schedules")
	}
	defer rows.Close()

	var out []swap.Schedule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Wrap(err, "sqlite scan schedule")
		}
		sc, err := decodeSchedule([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, errors.Wrap(rows.Err(), "sqlite load schedules")
}

func (s *sqliteStore) AppendExecution(ctx context.Context, r swap.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, schedule_id, attempted_at, outcome, converted_amount, rate_applied, failure_reason, cycle, attempt)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.ScheduleID, r.AttemptedAt.UTC().Format(time.RFC3339Nano), string(r.Outcome),
		r.ConvertedAmount.String(), r.RateApplied.String(), nullStr(r.FailureReason), r.Cycle, r.Attempt,
	)
	return errors.Wrap(err, "sqlite append execution")
}

func (s *sqliteStore) LoadExecutions(ctx context.Context) ([]swap.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, attempted_at, outcome, converted_amount, rate_applied, failure_reason, cycle, attempt
		 FROM executions ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite load executions")
	}
	defer rows.Close()

	var out []swap.ExecutionRecord
	for rows.Next() {
		var (
			r           swap.ExecutionRecord
			at, outcome string
			conv, rate  string
			reason      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ScheduleID, &at, &outcome, &conv, &rate, &reason, &r.Cycle, &r.Attempt); err != nil {
			return nil, errors.Wrap(err, "sqlite scan execution")
		}
		if r.AttemptedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, errors.Wrap(err, "parse attempted_at")
		}
		if r.ConvertedAmount, err = parseDecimal("converted_amount", conv); err != nil {
			return nil, err
		}
		if r.RateApplied, err = parseDecimal("rate_applied", rate); err != nil {
			return nil, err
		}
		r.Outcome = swap.Outcome(outcome)
		r.FailureReason = reason.String
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "sqlite load executions")
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, schedule_id, status, detail, err)
		 VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Actor, e.Action, e.ScheduleID,
		nullStr(e.Status), nullStr(e.Detail), nullStr(e.Error),
	)
	return errors.Wrap(err, "sqlite append audit")
}
