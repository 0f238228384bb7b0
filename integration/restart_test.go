// Package integration provides integration tests that exercise the image-api
// service across process restarts on a persistent ledger.
package integration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-imageapi-go/conformance"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

func newInstance(t *testing.T, dir string, fakes *conformance.FakeProviders) *conformance.Harness {
	t.Helper()
	h, err := conformance.NewHarness(conformance.Config{
		SQLitePath:  filepath.Join(dir, "imageapi.db"),
		UploadDir:   filepath.Join(dir, "uploads"),
		UnsplashKey: conformance.ValidUnsplashKey,
		GiphyKey:    conformance.ValidGiphyKey,
		Providers:   fakes,
	})
	require.NoError(t, err)
	return h
}

func importFirstGIF(t *testing.T, h *conformance.Harness) {
	t.Helper()
	status, raw := h.Post(t, "/image-api/search-giphy-images", `{"query":"cats"}`)
	require.Equal(t, 200, status, string(raw))
	var page model.SearchResultPage
	conformance.Decode(t, raw, &page)
	require.NotEmpty(t, page.Items)

	status, raw = h.Post(t, "/image-api/import-giphy-image", conformance.ImportBody(page.Items[0], "cat"))
	require.Equal(t, 200, status, string(raw))
}

// TestLogoImportedOncePerInstall restarts the service on the same SQLite
// ledger and upload directory. The Giphy logo asset is created by the first
// process only; the ledger keeps every import from both.
func TestLogoImportedOncePerInstall(t *testing.T) {
	dir := t.TempDir()
	fakes := conformance.NewFakeProviders()
	defer fakes.Close()

	first := newInstance(t, dir, fakes)
	importFirstGIF(t, first)
	logo, err := first.Store().FindImportByType(context.Background(), model.TypeGiphyLogo)
	require.NoError(t, err)
	first.Close()

	second := newInstance(t, dir, fakes)
	defer second.Close()
	importFirstGIF(t, second)

	items, err := second.Store().ListImports(context.Background(), 100)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, rec := range items {
		counts[rec.Type]++
		if rec.Type == model.TypeGiphyLogo {
			assert.Equal(t, logo.ID, rec.ID)
		}
	}
	assert.Equal(t, 1, counts[model.TypeGiphyLogo])
	assert.Equal(t, 2, counts[model.ProviderGiphy])

	// The logo stored by the first process is still served after the restart.
	status, _ := second.Get(t, logo.Image.URL)
	assert.Equal(t, 200, status)
}

// TestImportedImagesNewestFirst checks the ledger listing order over HTTP.
func TestImportedImagesNewestFirst(t *testing.T) {
	h := newInstance(t, t.TempDir(), nil)
	defer h.Close()

	importFirstGIF(t, h)
	status, raw := h.Post(t, "/image-api/search-unsplash-images", `{"query":"cats"}`)
	require.Equal(t, 200, status, string(raw))
	var page model.SearchResultPage
	conformance.Decode(t, raw, &page)
	status, raw = h.Post(t, "/image-api/import-unsplash-image", conformance.ImportBody(page.Items[0], ""))
	require.Equal(t, 200, status, string(raw))

	status, raw = h.Get(t, "/image-api/imported-images?limit=1")
	require.Equal(t, 200, status, string(raw))
	var list model.ImportedImagesResponse
	conformance.Decode(t, raw, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, model.ProviderUnsplash, list.Items[0].Type)
}
