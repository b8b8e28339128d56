package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: per-connection pragmas stick and ":memory:" stays a
	// single database.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// Jobs and embeddings share one database file.
	if _, err = db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			status       TEXT NOT NULL DEFAULT 'pending',
			progress     INTEGER NOT NULL DEFAULT 0,
			current      INTEGER NOT NULL DEFAULT 0,
			total        INTEGER NOT NULL DEFAULT 0,
			message      TEXT NOT NULL DEFAULT '',
			result       TEXT,
			folder_path  TEXT NOT NULL,
			callback_url TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL,
			finished_at  DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status     ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, j *Job) error {
	result, err := marshalResult(j.Result)
	if err != nil {
		return fmt.Errorf("encode result for job %s: %w", j.ID, err)
	}
	var finishedAt any
	if j.FinishedAt != nil {
		finishedAt = j.FinishedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs
			(id, status, progress, current, total, message, result, folder_path, callback_url, created_at, updated_at, finished_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			current = excluded.current,
			total = excluded.total,
			message = excluded.message,
			result = excluded.result,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at
	`,
		j.ID, j.Status, j.Progress, j.Current, j.Total, j.Message, result,
		j.FolderPath, j.CallbackURL, j.CreatedAt.UTC(), j.UpdatedAt.UTC(), finishedAt,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, status, progress, current, total, message, result,
	       folder_path, callback_url, created_at, updated_at, finished_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var result sql.NullString
	var finishedAt sql.NullTime
	if err := row.Scan(
		&j.ID, &j.Status, &j.Progress, &j.Current, &j.Total, &j.Message, &result,
		&j.FolderPath, &j.CallbackURL, &j.CreatedAt, &j.UpdatedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		j.Result = &Result{}
		if err := json.Unmarshal([]byte(result.String), j.Result); err != nil {
			return nil, fmt.Errorf("decode result for job %s: %w", j.ID, err)
		}
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return j, nil
}

// Get returns nil, nil when no job has the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, message = ?, updated_at = ?, finished_at = ?
		WHERE status NOT IN (?, ?)
	`, StatusError, message, now, now, StatusCompleted, StatusError)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// marshalResult returns nil for a missing result so the column stays NULL.
func marshalResult(r *Result) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
