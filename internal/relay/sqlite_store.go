package relay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps relay records across restarts. It is opt-in
// (store.backend = "sqlite"); the in-memory store is the default.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

// Record inserts the mapping. An existing record for sourceID is kept as is:
// the key is immutable once written.
func (s *SQLiteStore) Record(ctx context.Context, sourceID, destID int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relay_records (source_id, dest_id, created_at) VALUES (?, ?, ?)`,
		sourceID, destID, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record %d: %w", sourceID, err)
	}
	return nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, sourceID int) (int, bool, error) {
	var destID int
	err := s.db.QueryRowContext(ctx,
		`SELECT dest_id FROM relay_records WHERE source_id = ? AND removed_at IS NULL`, sourceID,
	).Scan(&destID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %d: %w", sourceID, err)
	}
	return destID, true, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, sourceID int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM relay_records WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("remove %d: %w", sourceID, err)
	}
	return nil
}

// MarkRemoved keeps a tombstone row for sourceID. Tombstones are pruned with
// the records.
func (s *SQLiteStore) MarkRemoved(ctx context.Context, sourceID int) error {
	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_records (source_id, dest_id, created_at, removed_at) VALUES (?, 0, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET removed_at = excluded.removed_at`,
		sourceID, now, now,
	)
	if err != nil {
		return fmt.Errorf("mark removed %d: %w", sourceID, err)
	}
	return nil
}

func (s *SQLiteStore) IsRemoved(ctx context.Context, sourceID int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relay_records WHERE source_id = ? AND removed_at IS NOT NULL`, sourceID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is removed %d: %w", sourceID, err)
	}
	return n > 0, nil
}

// Prune drops records older than maxAge. Old channel posts are rarely edited.
func (s *SQLiteStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM relay_records WHERE created_at < ?`, time.Now().Add(-maxAge).UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned relay records", "count", n, "max_age", maxAge)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
