package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"recurswap/internal/swap"
	logx "recurswap/pkg/logx"
)

// fileStore persists to JSON Lines files next to cfg.Path.
//
// Files:
//   - <prefix>.schedules.snapshot.json (periodic snapshot)
//   - <prefix>.schedules.journal.jsonl (append-only upsert/delete journal)
//   - <prefix>.executions.jsonl        (append-only execution ledger)
//   - <prefix>.audit.jsonl             (append-only audit trail)
//
// The schedule journal is compacted into the snapshot every compactEvery writes
// and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File
	execFile  *os.File
	execPath  string

	snapshotPath string
	journalFile  *os.File
	schedules    map[string]swap.Schedule

	writes       int
	compactEvery int
}

type scheduleOp struct {
	Op       string         `json:"op"` // "put" | "del"
	ID       string         `json:"id"`
	Schedule *swap.Schedule `json:"schedule,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir storage dir")
	}

	st := &fileStore{
		log:          log,
		execPath:     prefix + ".executions.jsonl",
		snapshotPath: prefix + ".schedules.snapshot.json",
		schedules:    map[string]swap.Schedule{},
		compactEvery: 500,
	}
	journalPath := prefix + ".schedules.journal.jsonl"

	if err := loadScheduleSnapshot(st.snapshotPath, st.schedules); err != nil && !os.IsNotExist(err) {
		log.Warn("schedule snapshot unreadable; relying on journal", logx.String("path", st.snapshotPath), logx.Err(err))
	}
	if err := replayScheduleJournal(journalPath, st.schedules); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "replay schedule journal")
	}

	var err error
	if st.auditFile, err = os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return nil, errors.Wrap(err, "open audit file")
	}
	if st.execFile, err = os.OpenFile(st.execPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		_ = st.auditFile.Close()
		return nil, errors.Wrap(err, "open executions file")
	}
	if st.journalFile, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600); err != nil {
		_ = st.auditFile.Close()
		_ = st.execFile.Close()
		return nil, errors.Wrap(err, "open schedule journal")
	}
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("schedule compact on close failed", logx.Err(err))
		}
	}
	var errs []error
	for _, f := range []*os.File{s.auditFile, s.execFile, s.journalFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.auditFile, s.execFile, s.journalFile = nil, nil, nil
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (s *fileStore) SaveSchedule(ctx context.Context, sc swap.Schedule) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sc.Clone()
	if err := s.journalLocked(scheduleOp{Op: "put", ID: sc.ID, Schedule: &cp}); err != nil {
		return err
	}
	s.schedules[sc.ID] = cp
	return nil
}

func (s *fileStore) DeleteSchedule(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.journalLocked(scheduleOp{Op: "del", ID: id}); err != nil {
		return err
	}
	delete(s.schedules, id)
	return nil
}

func (s *fileStore) journalLocked(op scheduleOp) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(op); err != nil {
		return errors.Wrap(err, "append schedule journal")
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("schedule compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadSchedules(ctx context.Context) ([]swap.Schedule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]swap.Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc.Clone())
	}
	sortSchedules(out)
	return out, nil
}

func (s *fileStore) AppendExecution(ctx context.Context, r swap.ExecutionRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.execFile).Encode(r); err != nil {
		return errors.Wrap(err, "append execution")
	}
	return nil
}

func (s *fileStore) LoadExecutions(ctx context.Context) ([]swap.ExecutionRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.execPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open executions file")
	}
	defer f.Close()

	var out []swap.ExecutionRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var r swap.ExecutionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn trailing line after a crash is skipped.
			continue
		}
		if r.ScheduleID == "" {
			continue
		}
		out = append(out, r)
	}
	return out, errors.Wrap(sc.Err(), "scan executions file")
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return errors.Wrap(json.NewEncoder(s.auditFile).Encode(e), "append audit")
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.schedules); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadScheduleSnapshot(path string, out map[string]swap.Schedule) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]swap.Schedule
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayScheduleJournal(path string, out map[string]swap.Schedule) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 1<<20)
	for s.Scan() {
		var op scheduleOp
		if err := json.Unmarshal(s.Bytes(), &op); err != nil {
			continue
		}
		if op.ID == "" {
			continue
		}
		switch op.Op {
		case "put":
			if op.Schedule != nil {
				out[op.ID] = *op.Schedule
			}
		case "del":
			delete(out, op.ID)
		}
	}
	return s.Err()
}
