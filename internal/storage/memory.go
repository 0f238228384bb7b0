// internal/storage/memory.go
// Package storage provides the provenance ledger and plugin settings store
// with in-memory, PostgreSQL and SQLite backends.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a record or setting is absent
	ErrConflict = errors.New("conflict")  // Returned when a record id already exists
)

// Ledger records every asset imported from a provider. Entries are append-only;
// importing the same provider image twice yields two entries.
type Ledger interface {
	// RecordImport appends rec. Empty ID and CreatedAt are filled in.
	RecordImport(ctx context.Context, rec *model.ImportedImageRecord) error
	// FindImportByType returns the oldest entry of the given type, or ErrNotFound.
	FindImportByType(ctx context.Context, recordType string) (*model.ImportedImageRecord, error)
	// ListImports returns up to limit entries, newest first.
	ListImports(ctx context.Context, limit int) ([]model.ImportedImageRecord, error)
}

// ConfigStore holds plugin settings as opaque strings.
type ConfigStore interface {
	GetSetting(ctx context.Context, key string) (string, error) // ErrNotFound when unset
	SetSetting(ctx context.Context, key, value string) error
}

// Store is the full storage surface a backend provides.
type Store interface {
	Ledger
	ConfigStore
	Ping(ctx context.Context) error
	Close()
}

const (
	defaultListLimit = 25
	maxListLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// prepareRecord assigns an id and creation time when the caller left them empty.
func prepareRecord(rec *model.ImportedImageRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

// memory implements Store in process memory.
// It's intended for development and testing purposes.
type memory struct {
	mu       sync.RWMutex
	records  []model.ImportedImageRecord // Insertion order
	ids      map[string]struct{}
	settings map[string]string
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		ids:      make(map[string]struct{}),
		settings: make(map[string]string),
	}
}

func (m *memory) RecordImport(ctx context.Context, rec *model.ImportedImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareRecord(rec)
	if _, exists := m.ids[rec.ID]; exists {
		return ErrConflict
	}
	m.ids[rec.ID] = struct{}{}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memory) FindImportByType(ctx context.Context, recordType string) (*model.ImportedImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.Type == recordType {
			found := rec
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) ListImports(ctx context.Context, limit int) ([]model.ImportedImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first; equal timestamps fall back to reverse insertion order
	out := make([]model.ImportedImageRecord, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		out = append(out, m.records[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit = clampLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memory) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memory) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = value
	return nil
}

func (m *memory) Ping(ctx context.Context) error { return nil }

func (m *memory) Close() {}
