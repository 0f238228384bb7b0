// internal/storage/sqlite.go
// SQLite implementation of Store for single-node installs.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

const sqliteSchema = `
  CREATE TABLE IF NOT EXISTS imported_images (
      id TEXT PRIMARY KEY,
      type TEXT NOT NULL,
      image_id TEXT NOT NULL,
      image_url TEXT NOT NULL,
      original_id TEXT NOT NULL DEFAULT '',
      original_name TEXT NOT NULL DEFAULT '',
      original_url TEXT NOT NULL DEFAULT '',
      author_name TEXT NOT NULL DEFAULT '',
      author_url TEXT NOT NULL DEFAULT '',
      web_url TEXT NOT NULL DEFAULT '',
      created_at INTEGER NOT NULL
  );
  CREATE INDEX IF NOT EXISTS idx_imported_images_type ON imported_images(type, created_at);

  CREATE TABLE IF NOT EXISTS plugin_settings (
      key TEXT PRIMARY KEY,
      value TEXT NOT NULL,
      updated_at INTEGER NOT NULL
  );
`

type sqliteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite database file and initializes the schema.
func NewSQLite(filename string) (Store, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+filename+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent imports
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() {
	s.db.Close()
}

func (s *sqliteStore) RecordImport(ctx context.Context, rec *model.ImportedImageRecord) error {
	prepareRecord(rec)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_images
		 (id, type, image_id, image_url, original_id, original_name, original_url, author_name, author_url, web_url, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID,
		rec.Type,
		rec.Image.ID,
		rec.Image.URL,
		rec.OriginalID,
		rec.OriginalName,
		rec.OriginalURL,
		rec.AuthorName,
		rec.AuthorURL,
		rec.WebURL,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrConflict
		}
		return fmt.Errorf("failed to record import: %w", err)
	}
	return nil
}

const sqliteImportColumns = `SELECT id, type, image_id, image_url, original_id, original_name, original_url,
	author_name, author_url, web_url, created_at FROM imported_images`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteImport(row rowScanner) (*model.ImportedImageRecord, error) {
	var rec model.ImportedImageRecord
	var createdAt int64
	if err := row.Scan(
		&rec.ID,
		&rec.Type,
		&rec.Image.ID,
		&rec.Image.URL,
		&rec.OriginalID,
		&rec.OriginalName,
		&rec.OriginalURL,
		&rec.AuthorName,
		&rec.AuthorURL,
		&rec.WebURL,
		&createdAt,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return &rec, nil
}

func (s *sqliteStore) FindImportByType(ctx context.Context, recordType string) (*model.ImportedImageRecord, error) {
	row := s.db.QueryRowContext(ctx, sqliteImportColumns+` WHERE type = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`, recordType)
	rec, err := scanSQLiteImport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find import: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) ListImports(ctx context.Context, limit int) ([]model.ImportedImageRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteImportColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}
	defer rows.Close()

	out := make([]model.ImportedImageRecord, 0)
	for rows.Next() {
		rec, err := scanSQLiteImport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating imports: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM plugin_settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

func (s *sqliteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_settings (key, value, updated_at) VALUES (?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
