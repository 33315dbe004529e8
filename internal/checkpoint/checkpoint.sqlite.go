package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"coach_reconcile/internal/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_steps (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	step       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id, seq);
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	state      TEXT NOT NULL,
	apply      INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	report     BLOB
);
`

// SQLiteStore checkpoint trên file SQLite cục bộ (modernc, không cần cgo)
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite mở (hoặc tạo) file checkpoint; path ":memory:" dùng cho test
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Một connection: ":memory:" mỗi connection là một DB riêng
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, runID, step string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step, payload, created_at) VALUES (?, ?, ?, ?)`,
		runID, step, payload, time.Now().UnixMilli())
	return err
}

func (s *SQLiteStore) Latest(ctx context.Context, runID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, step, payload, created_at FROM run_steps WHERE run_id = ? ORDER BY seq DESC LIMIT 1`, runID)

	e := Entry{RunID: runID}
	var created int64
	if err := row.Scan(&e.Seq, &e.Step, &e.Payload, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrRunNotFound
		}
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	return &e, nil
}

func (s *SQLiteStore) History(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, step, payload, created_at FROM run_steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{RunID: runID}
		var created int64
		if err := rows.Scan(&e.Seq, &e.Step, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	apply := 0
	if run.Apply {
		apply = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, collection, state, apply, started_at, updated_at, report)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			state = excluded.state,
			apply = excluded.apply,
			updated_at = excluded.updated_at,
			report = COALESCE(excluded.report, runs.report)`,
		run.RunID, run.Collection, run.State, apply,
		run.StartedAt.UnixMilli(), run.UpdatedAt.UnixMilli(), nullableBytes(run.Report))
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, collection, state, apply, started_at, updated_at, report
		FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrRunNotFound
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, collection, state, apply, started_at, updated_at, report
		FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var apply int
	var started, updated int64
	var report []byte
	if err := sc.Scan(&run.RunID, &run.Collection, &run.State, &apply, &started, &updated, &report); err != nil {
		return nil, err
	}
	run.Apply = apply == 1
	run.StartedAt = time.UnixMilli(started).UTC()
	run.UpdatedAt = time.UnixMilli(updated).UTC()
	if len(report) > 0 {
		run.Report = report
	}
	return &run, nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
