package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "upwatch/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

const jobColumns = `job_id, chain_id, status, run_at, target, url, tries_remaining, delay_seconds, outcome, created_at, finished_at`

// sqlStore is shared by both SQLite drivers. Times are stored as UTC unix
// milliseconds so ORDER BY run_at is numeric.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time

	// isConstraint recognizes the driver's constraint violation errors.
	isConstraint func(error) bool
}

func openSQL(driverName string, cfg Config, log logx.Logger, isConstraint func(error) bool) (*sqlStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driverName, withTxLock(path))
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite out of SQLITE_BUSY within a process; other
	// processes are covered by busy_timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqlStore{db: db, log: log, now: time.Now, isConstraint: isConstraint}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("job store opened", logx.String("driver", driverName), logx.String("path", path))
	return st, nil
}

// withTxLock makes every transaction BEGIN IMMEDIATE, which both drivers
// accept as _txlock. A Finish then queues for the write lock under
// busy_timeout and reads the row only once it holds the lock, so a second
// process racing on the same job sees ErrConflict rather than SQLITE_BUSY.
func withTxLock(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate"
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) insert(ctx context.Context, ex execer, j Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ChainID, string(j.Status), j.RunAt.UnixMilli(), j.Target, j.URL,
		j.TriesRemaining, int64(j.Delay/time.Second), nullStr(j.Outcome),
		j.CreatedAt.UnixMilli(), nullMillis(j.FinishedAt),
	)
	if err != nil && s.isConstraint != nil && s.isConstraint(err) {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

func (s *sqlStore) Insert(ctx context.Context, j Job) error {
	j, err := prepareInsert(j, s.now())
	if err != nil {
		return err
	}
	return s.insert(ctx, s.db, j)
}

func (s *sqlStore) FindNextPending(ctx context.Context) (Job, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY run_at ASC, job_id ASC LIMIT 1`)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

func (s *sqlStore) Finish(ctx context.Context, id, outcome string, successor *Job) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	pred, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if pred.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}

	now := s.now()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', outcome = ?, finished_at = ? WHERE job_id = ? AND status = 'pending'`,
		nullStr(outcome), now.UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}

	if successor != nil {
		var succ Job
		if succ, err = prepareInsert(*successor, now); err != nil {
			return err
		}
		if err = checkSuccessor(pred, succ); err != nil {
			return err
		}
		if err = s.insert(ctx, tx, succ); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) Get(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, err
}

func (s *sqlStore) Chain(ctx context.Context, chainID string) ([]Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE chain_id = ? ORDER BY run_at ASC, created_at ASC`, chainID)
}

func (s *sqlStore) ListPending(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY run_at ASC, job_id ASC LIMIT ?`, limit)
}

func (s *sqlStore) list(ctx context.Context, q string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0),
		MIN(CASE WHEN status = 'pending' THEN run_at END)
		FROM jobs`).Scan(&st.Pending, &st.Done, &next)
	if err != nil {
		return Stats{}, err
	}
	if next.Valid {
		st.NextRunAt = time.UnixMilli(next.Int64).UTC()
	}
	return st, nil
}

func (s *sqlStore) PurgeDone(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = 'done' AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notices WHERE at < ?`, cutoff); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStore) MarkNotified(ctx context.Context, jobID, kind string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notices(job_id, kind, at) VALUES(?,?,?) ON CONFLICT(job_id) DO NOTHING`,
		jobID, kind, s.now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqlStore) Notified(ctx context.Context, jobID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM notices WHERE job_id = ?`, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (Job, error) {
	var (
		j          Job
		status     string
		runAt      int64
		delay      int64
		outcome    sql.NullString
		createdAt  int64
		finishedAt sql.NullInt64
	)
	if err := sc.Scan(&j.ID, &j.ChainID, &status, &runAt, &j.Target, &j.URL,
		&j.TriesRemaining, &delay, &outcome, &createdAt, &finishedAt); err != nil {
		return Job{}, err
	}
	j.Status = Status(status)
	j.RunAt = time.UnixMilli(runAt).UTC()
	j.Delay = time.Duration(delay) * time.Second
	j.Outcome = outcome.String
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	if finishedAt.Valid {
		j.FinishedAt = time.UnixMilli(finishedAt.Int64).UTC()
	}
	return j, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
