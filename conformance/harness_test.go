// Package conformance provides conformance tests for the image-api HTTP contract.
package conformance

import (
	"net/http"
	"strings"
	"testing"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// TestConformance runs the full conformance test suite.
func TestConformance(t *testing.T) {
	harness, err := NewHarness(Config{
		UploadDir:       t.TempDir(),
		UnsplashKey:     ValidUnsplashKey,
		UnsplashAppName: "conformance",
		GiphyKey:        ValidGiphyKey,
	})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	harness.RunConformanceTests(t)
}

// TestProviderErrors checks how credential problems surface over HTTP.
func TestProviderErrors(t *testing.T) {
	harness, err := NewHarness(Config{
		UploadDir:   t.TempDir(),
		UnsplashKey: "revoked-key",
	})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	tests := []struct {
		name     string
		path     string
		status   int
		code     string
		provider string
		network  bool
	}{
		{"rejected key", "/image-api/search-unsplash-images", http.StatusBadGateway, "IMG_PROVIDER_AUTH", "unsplash", true},
		{"missing key", "/image-api/search-giphy-images", http.StatusInternalServerError, "IMG_CONFIGURATION", "giphy", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := harness.Providers().Requests()
			status, raw := harness.Post(t, tt.path, `{"query":"cats"}`)
			if status != tt.status {
				t.Errorf("status got %d want %d (%s)", status, tt.status, raw)
			}
			var body ErrorBody
			Decode(t, raw, &body)
			if body.Error.Code != tt.code {
				t.Errorf("code got %s want %s", body.Error.Code, tt.code)
			}
			if body.Error.Provider != tt.provider {
				t.Errorf("provider got %q want %q", body.Error.Provider, tt.provider)
			}
			if body.Error.CorrelationID == "" {
				t.Errorf("missing correlation id")
			}
			if called := harness.Providers().Requests() > before; called != tt.network {
				t.Errorf("provider called = %v, want %v", called, tt.network)
			}
		})
	}
}

// TestHTMLEditorMarkup checks that HTML editors get HTML attribution.
func TestHTMLEditorMarkup(t *testing.T) {
	harness, err := NewHarness(Config{
		UploadDir:   t.TempDir(),
		UnsplashKey: ValidUnsplashKey,
		GiphyKey:    ValidGiphyKey,
		HTMLEditor:  true,
	})
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer harness.Close()

	for _, p := range []string{model.ProviderUnsplash, model.ProviderGiphy} {
		item := harness.search(t, p, `{"query":"cats"}`).Items[0]
		content := harness.importItem(t, p, item, "alt <b>")
		if !strings.HasPrefix(content, `<div><img src="`+harness.URL()) {
			t.Errorf("%s: content %q is not an HTML block", p, content)
		}
		if !strings.Contains(content, `alt="alt &lt;b&gt;"`) {
			t.Errorf("%s: alt text not escaped in %q", p, content)
		}
	}
}
