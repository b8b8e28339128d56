package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/photosift/photosift/internal/common"
)

// SQLiteStore keeps one collection in a SQLite table shared by all
// collections. Vectors are stored as little-endian float32 blobs and ranked
// in process.
type SQLiteStore struct {
	db         *sql.DB
	collection string
}

// NewSQLiteStore opens (or creates) the database at dbPath. Writes go through
// a single connection, so concurrent Add calls from different jobs are
// serialized.
func NewSQLiteStore(dbPath, collection string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// Jobs and embeddings share one database file.
	if _, err = db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, collection: collection}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			dims       INTEGER NOT NULL,
			vector     BLOB NOT NULL,
			path       TEXT NOT NULL,
			filename   TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		);
	`)
	return err
}

func (s *SQLiteStore) Name() string { return s.collection }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	dims, err := s.dims(ctx)
	if err != nil {
		return err
	}
	if dims == 0 {
		dims = len(entries[0].Vector)
	}
	for _, e := range entries {
		if len(e.Vector) != dims {
			return common.Store(fmt.Sprintf("add %s", e.ID),
				fmt.Errorf("dimension %d does not match collection dimension %d", len(e.Vector), dims))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.Store("begin add", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (collection, id, dims, vector, path, filename, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			dims = excluded.dims,
			vector = excluded.vector,
			path = excluded.path,
			filename = excluded.filename,
			seq = excluded.seq
	`)
	if err != nil {
		return common.Store("prepare add", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, s.collection, e.ID, len(e.Vector), encodeVector(e.Vector),
			e.Metadata.Path, e.Metadata.Filename, e.Metadata.Index); err != nil {
			return common.Store(fmt.Sprintf("add %s", e.ID), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return common.Store("commit add", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vector, path, filename, seq FROM embeddings WHERE collection = ?
	`, s.collection)
	if err != nil {
		return nil, common.Store("query", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		var blob []byte
		if err := rows.Scan(&h.ID, &blob, &h.Metadata.Path, &h.Metadata.Filename, &h.Metadata.Index); err != nil {
			return nil, common.Store("scan embedding", err)
		}
		v := decodeVector(blob)
		if len(v) != len(vector) {
			return nil, common.Store("query",
				fmt.Errorf("query dimension %d does not match collection dimension %d", len(vector), len(v)))
		}
		h.Distance = cosineDistance(vector, v)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Store("iterate embeddings", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance == hits[j].Distance {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE collection = ?`, s.collection).Scan(&n); err != nil {
		return 0, common.Store("count", err)
	}
	return n, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE collection = ?`, s.collection); err != nil {
		return common.Store("clear", err)
	}
	return nil
}

// dims returns the dimension of the vectors already in the collection, or 0
// when it is empty.
func (s *SQLiteStore) dims(ctx context.Context) (int, error) {
	var d sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT dims FROM embeddings WHERE collection = ? LIMIT 1`, s.collection).Scan(&d)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, common.Store("read dimension", err)
	}
	return int(d.Int64), nil
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
