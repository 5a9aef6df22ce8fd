package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"

	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.WithHint(errors.New("postgres dsn is required"), "set storage.dsn or RECURSWAP_DATABASE_DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	st := newPostgresStore(db, log)
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func newPostgresStore(db *sql.DB, log logx.Logger) *postgresStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &postgresStore{db: db, log: log}
}

func (s *postgresStore) migrate(ctx context.Context) error {
	q, err := loadMigration("postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q)
	return errors.Wrap(err, "postgres migrate")
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) SaveSchedule(ctx context.Context, sc swap.Schedule) error {
	doc, err := encodeSchedule(sc)
	if err != nil {
		return err
	}
	var next any
	if sc.NextExecutionAt != nil {
		next = sc.NextExecutionAt.UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, status, next_execution_at, created_at, updated_at, doc)
		 VALUES($1,$2,$3,$4,$5,$6)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   next_execution_at=excluded.next_execution_at,
		   updated_at=excluded.updated_at,
		   doc=excluded.doc`,
		sc.ID, string(sc.Status), next, sc.CreatedAt.UTC(), sc.UpdatedAt.UTC(), doc,
	)
	return errors.Wrap(err, "postgres save schedule")
}

func (s *postgresStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	return errors.Wrap(err, "postgres delete schedule")
}

func (s *postgresStore) LoadSchedules(ctx context.Context) ([]swap.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "postgres load schedules")
	}
	defer rows.Close()

	var out []swap.Schedule
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Wrap(err, "postgres scan schedule")
		}
		sc, err := decodeSchedule(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, errors.Wrap(rows.Err(), "postgres load schedules")
}

func (s *postgresStore) AppendExecution(ctx context.Context, r swap.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, schedule_id, attempted_at, outcome, converted_amount, rate_applied, failure_reason, cycle, attempt)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.ScheduleID, r.AttemptedAt.UTC(), string(r.Outcome),
		r.ConvertedAmount.String(), r.RateApplied.String(), nullStr(r.FailureReason), r.Cycle, r.Attempt,
	)
	return errors.Wrap(err, "postgres append execution")
}

func (s *postgresStore) LoadExecutions(ctx context.Context) ([]swap.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, attempted_at, outcome, converted_amount, rate_applied, failure_reason, cycle, attempt
		 FROM executions ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "postgres load executions")
	}
	defer rows.Close()

	var out []swap.ExecutionRecord
	for rows.Next() {
		var (
			r          swap.ExecutionRecord
			outcome    string
			conv, rate string
			reason     sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.AttemptedAt, &outcome, &conv, &rate, &reason, &r.Cycle, &r.Attempt); err != nil {
			return nil, errors.Wrap(err, "postgres scan execution")
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
	return out, errors.Wrap(rows.Err(), "postgres load executions")
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, action, schedule_id, status, detail, err)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.At.UTC(), e.Actor, e.Action, e.ScheduleID, nullStr(e.Status), nullStr(e.Detail), nullStr(e.Error),
	)
	return errors.Wrap(err, "postgres append audit")
}
