// internal/storage/postgres.go
// PostgreSQL implementation of Store, intended for production deployments.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// postgres keeps the ledger and settings in PostgreSQL.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - dsn: Database connection string in PostgreSQL format
//
// Returns:
//   - Store: Implementation of the storage interface
//   - error: Any error that occurred during initialization
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Imports are infrequent admin actions; a small pool is plenty
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates the ledger and settings tables if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Provenance ledger, one row per imported asset
		CREATE TABLE IF NOT EXISTS imported_images (
		    id TEXT PRIMARY KEY,
		    type TEXT NOT NULL,                      -- Provider tag or giphy-logo
		    image_id TEXT NOT NULL,                  -- Asset Store id
		    image_url TEXT NOT NULL,                 -- Asset Store url
		    original_id TEXT NOT NULL DEFAULT '',
		    original_name TEXT NOT NULL DEFAULT '',
		    original_url TEXT NOT NULL DEFAULT '',
		    author_name TEXT NOT NULL DEFAULT '',
		    author_url TEXT NOT NULL DEFAULT '',
		    web_url TEXT NOT NULL DEFAULT '',
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_imported_images_type ON imported_images(type, created_at);
		CREATE INDEX IF NOT EXISTS idx_imported_images_created_at ON imported_images(created_at DESC);

		-- Plugin settings
		CREATE TABLE IF NOT EXISTS plugin_settings (
		    key TEXT PRIMARY KEY,
		    value TEXT NOT NULL,
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

func (p *postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

// RecordImport inserts a ledger row
func (p *postgres) RecordImport(ctx context.Context, rec *model.ImportedImageRecord) error {
	prepareRecord(rec)

	query := `INSERT INTO imported_images
	          (id, type, image_id, image_url, original_id, original_name, original_url, author_name, author_url, web_url, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := p.db.Exec(ctx, query,
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
		rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to record import: %w", err)
	}
	return nil
}

const selectImportColumns = `SELECT id, type, image_id, image_url, original_id, original_name, original_url,
	author_name, author_url, web_url, created_at FROM imported_images`

func scanImport(row pgx.Row) (*model.ImportedImageRecord, error) {
	var rec model.ImportedImageRecord
	err := row.Scan(
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
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// FindImportByType returns the oldest ledger row of a type
func (p *postgres) FindImportByType(ctx context.Context, recordType string) (*model.ImportedImageRecord, error) {
	query := selectImportColumns + ` WHERE type = $1 ORDER BY created_at ASC, id ASC LIMIT 1`

	rec, err := scanImport(p.db.QueryRow(ctx, query, recordType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find import: %w", err)
	}
	return rec, nil
}

// ListImports returns the newest ledger rows
func (p *postgres) ListImports(ctx context.Context, limit int) ([]model.ImportedImageRecord, error) {
	query := selectImportColumns + ` ORDER BY created_at DESC, id DESC LIMIT $1`

	rows, err := p.db.Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list imports: %w", err)
	}
	defer rows.Close()

	out := make([]model.ImportedImageRecord, 0)
	for rows.Next() {
		rec, err := scanImport(rows)
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

// GetSetting reads a plugin setting
func (p *postgres) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRow(ctx, `SELECT value FROM plugin_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a plugin setting
func (p *postgres) SetSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO plugin_settings (key, value, updated_at) VALUES ($1, $2, $3)
	          ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := p.db.Exec(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
