package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mirrordrive/internal/config"
	"mirrordrive/internal/mount"
)

// Store persists mount entries in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the entries database under the state dir.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("store requires config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadEntries returns persisted records in display order. SourcePath is
// expanded from the stored spec; status is never stored.
func (s *Store) LoadEntries(ctx context.Context) ([]mount.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_spec, target_id, read_only, auto_attach
         FROM mount_entries ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var records []mount.Record
	for rows.Next() {
		var (
			rec        mount.Record
			target     sql.NullString
			readOnly   int
			autoAttach int
		)
		if err := rows.Scan(&rec.ID, &rec.SourceSpec, &target, &readOnly, &autoAttach); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		rec.TargetID = target.String
		rec.ReadOnly = readOnly != 0
		rec.AutoAttach = autoAttach != 0
		rec.SourcePath = mount.ExpandSource(rec.SourceSpec)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return records, nil
}

// SaveEntries replaces the stored set with records in one transaction.
func (s *Store) SaveEntries(ctx context.Context, records []mount.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM mount_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO mount_entries (
            id, position, source_spec, target_id, read_only, auto_attach, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("entry at position %d has no id", i)
		}
		spec := rec.SourceSpec
		if spec == "" {
			spec = rec.SourcePath
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			i,
			spec,
			nullableString(rec.TargetID),
			boolToInt(rec.ReadOnly),
			boolToInt(rec.AutoAttach),
			timestamp,
		); err != nil {
			return fmt.Errorf("insert entry %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entries: %w", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM mount_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
