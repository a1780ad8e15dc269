package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/rescale/runwatch/internal/logging"
	"github.com/rescale/runwatch/internal/models"
)

// SQLiteStore keeps the completion cache in a SQLite database so it
// survives restarts without a full snapshot rewrite per pass.
type SQLiteStore struct {
	db  *sql.DB
	log *logging.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, log *logging.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; avoids SQLITE_BUSY under the scan worker pool.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: logging.OrNop(log)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS completed_runs (
		run_name TEXT PRIMARY KEY,
		full_path TEXT NOT NULL DEFAULT '',
		document TEXT NOT NULL,
		cached_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_completed_runs_path ON completed_runs(full_path);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate cache schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(runName string) (*models.RunDocument, bool) {
	var data string
	err := s.db.QueryRow(`SELECT document FROM completed_runs WHERE run_name = ?`, runName).Scan(&data)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn().Err(err).Str("run", runName).Msg("cache lookup failed")
		}
		return nil, false
	}
	doc, err := models.UnmarshalRunDocument([]byte(data))
	if err != nil {
		s.log.Warn().Err(err).Str("run", runName).Msg("cached document is corrupt")
		return nil, false
	}
	return doc, true
}

func (s *SQLiteStore) Put(runName string, doc *models.RunDocument) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize run %s: %w", runName, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO completed_runs (run_name, full_path, document)
		 VALUES (?, ?, ?)
		 ON CONFLICT(run_name) DO UPDATE SET
		   full_path = excluded.full_path,
		   document = excluded.document,
		   updated_at = CURRENT_TIMESTAMP`,
		runName, doc.FullPath, string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to cache run %s: %w", runName, err)
	}
	return nil
}

func (s *SQLiteStore) PatchPath(runName, path string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRow(`SELECT document FROM completed_runs WHERE run_name = ?`, runName).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotCached
	}
	if err != nil {
		return false, err
	}
	doc, err := models.UnmarshalRunDocument([]byte(data))
	if err != nil {
		return false, fmt.Errorf("failed to parse cached run %s: %w", runName, err)
	}
	if doc.FullPath == path {
		return false, nil
	}
	doc.FullPath = path
	out, err := doc.Marshal()
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(
		`UPDATE completed_runs SET full_path = ?, document = ?, updated_at = CURRENT_TIMESTAMP WHERE run_name = ?`,
		path, string(out), runName,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) Names() []string {
	rows, err := s.db.Query(`SELECT run_name FROM completed_runs ORDER BY run_name`)
	if err != nil {
		s.log.Warn().Err(err).Msg("cache listing failed")
		return nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names
		}
		names = append(names, name)
	}
	return names
}

func (s *SQLiteStore) Len() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM completed_runs`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Flush is a no-op; every write is committed immediately.
func (s *SQLiteStore) Flush() error { return nil }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
