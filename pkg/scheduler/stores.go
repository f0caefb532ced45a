package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pathdx/cdst-go/pkg/errors"
)

// MemoryStore keeps checkpoints in process memory. Used by tests and
// deployments that accept losing resume state on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, scenarioID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := make([]byte, len(blob))
	copy(dup, blob)
	s.blobs[scenarioID] = dup
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, scenarioID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[scenarioID]
	if !ok {
		return nil, nil
	}
	dup := make([]byte, len(blob))
	copy(dup, blob)
	return dup, nil
}

func (s *MemoryStore) Delete(ctx context.Context, scenarioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, scenarioID)
	return nil
}

// SQLiteStore persists checkpoints durably. Puts are transactional so a
// crash mid-write never leaves a torn blob behind.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "cdst_checkpoints.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "failed to open checkpoint database")
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		scenario_id TEXT PRIMARY KEY,
		blob        BLOB NOT NULL,
		updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CheckpointFailed, "failed to initialize checkpoint schema")
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CheckpointFailed, "failed to enable WAL mode")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, scenarioID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (scenario_id, blob, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scenario_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		scenarioID, blob)
	if err != nil {
		return errors.Wrap(err, errors.CheckpointFailed, "failed to write checkpoint")
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, scenarioID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT blob FROM checkpoints WHERE scenario_id = ?", scenarioID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CheckpointFailed, "failed to read checkpoint")
	}
	return blob, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, scenarioID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM checkpoints WHERE scenario_id = ?", scenarioID); err != nil {
		return errors.Wrap(err, errors.CheckpointFailed, "failed to delete checkpoint")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
