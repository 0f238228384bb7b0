package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// backends returns every Store that can run without external services.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "data", "imageapi.db"))
	require.NoError(t, err)
	t.Cleanup(sqlite.Close)

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestLedger(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			_, err := store.FindImportByType(ctx, model.TypeGiphyLogo)
			assert.ErrorIs(t, err, ErrNotFound)

			first := &model.ImportedImageRecord{
				Type:       model.ProviderUnsplash,
				Image:      model.AssetRef{ID: "asset-1", URL: "/uploads/a/cat.jpg"},
				OriginalID: "cat-1",
				AuthorName: "Jane",
				CreatedAt:  base,
			}
			require.NoError(t, store.RecordImport(ctx, first))
			assert.NotEmpty(t, first.ID, "id is assigned")

			// Same provider image again is a second entry, not an update
			second := &model.ImportedImageRecord{
				Type:       model.ProviderUnsplash,
				Image:      model.AssetRef{ID: "asset-2", URL: "/uploads/b/cat.jpg"},
				OriginalID: "cat-1",
				CreatedAt:  base.Add(time.Minute),
			}
			require.NoError(t, store.RecordImport(ctx, second))
			assert.NotEqual(t, first.ID, second.ID)

			logo := &model.ImportedImageRecord{
				Type:      model.TypeGiphyLogo,
				Image:     model.AssetRef{ID: "logo", URL: "/uploads/c/giphy-logo.png"},
				CreatedAt: base.Add(2 * time.Minute),
			}
			require.NoError(t, store.RecordImport(ctx, logo))

			found, err := store.FindImportByType(ctx, model.ProviderUnsplash)
			require.NoError(t, err)
			assert.Equal(t, "asset-1", found.Image.ID, "oldest entry of the type")
			assert.Equal(t, "Jane", found.AuthorName)
			assert.True(t, base.Equal(found.CreatedAt))

			found, err = store.FindImportByType(ctx, model.TypeGiphyLogo)
			require.NoError(t, err)
			assert.Equal(t, "/uploads/c/giphy-logo.png", found.Image.URL)

			list, err := store.ListImports(ctx, 0)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"logo", "asset-2", "asset-1"},
				[]string{list[0].Image.ID, list[1].Image.ID, list[2].Image.ID})

			list, err = store.ListImports(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestRecordImportConflict(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := model.ImportedImageRecord{ID: "fixed", Type: model.ProviderGiphy, Image: model.AssetRef{ID: "x", URL: "/x"}}
			require.NoError(t, store.RecordImport(ctx, &rec))
			dup := rec
			assert.ErrorIs(t, store.RecordImport(ctx, &dup), ErrConflict)
		})
	}
}

func TestSettings(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetSetting(ctx, "giphyLogo")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.SetSetting(ctx, "giphyLogo", "aGVsbG8="))
			v, err := store.GetSetting(ctx, "giphyLogo")
			require.NoError(t, err)
			assert.Equal(t, "aGVsbG8=", v)

			require.NoError(t, store.SetSetting(ctx, "giphyLogo", "d29ybGQ="))
			v, err = store.GetSetting(ctx, "giphyLogo")
			require.NoError(t, err)
			assert.Equal(t, "d29ybGQ=", v)

			assert.NoError(t, store.Ping(ctx))
		})
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, clampLimit(0))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxListLimit, clampLimit(1000))
}
