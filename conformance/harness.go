// Package conformance provides a test harness for verifying the image-api
// HTTP contract end to end: real provider adapters talking to fake Unsplash
// and Giphy servers, the disk asset store and a ledger backend.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/event"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/imageapi"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/media"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/provider"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/server"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/storage"
)

// Keys the fake providers accept.
const (
	ValidUnsplashKey = "unsplash-test-key"
	ValidGiphyKey    = "giphy-test-key"
)

// Config holds configuration for the conformance test harness.
type Config struct {
	// SQLitePath selects the SQLite ledger; empty means in-memory
	SQLitePath string

	// UploadDir is where the disk store writes; required
	UploadDir string

	// Provider credentials; empty keys exercise the configuration error path
	UnsplashKey     string
	UnsplashAppName string
	GiphyKey        string

	// HTMLEditor selects HTML attribution markup
	HTMLEditor bool

	// Providers lets several harnesses share one set of fakes
	Providers *FakeProviders
}

// Harness provides a running image-api server for conformance testing.
type Harness struct {
	server    *httptest.Server
	providers *FakeProviders
	ownsFakes bool
	store     storage.Store
	events    *RecordingPublisher
}

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) (*Harness, error) {
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("UploadDir is required")
	}

	var store storage.Store
	if cfg.SQLitePath != "" {
		s, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
		}
		store = s
	} else {
		store = storage.NewMemory()
	}
	if err := imageapi.Bootstrap(context.Background(), store); err != nil {
		store.Close()
		return nil, err
	}

	disk, err := media.NewDiskStore(cfg.UploadDir, 0)
	if err != nil {
		store.Close()
		return nil, err
	}

	validator, err := schema.NewValidator()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	h := &Harness{providers: cfg.Providers, store: store, events: &RecordingPublisher{}}
	if h.providers == nil {
		h.providers = NewFakeProviders()
		h.ownsFakes = true
	}

	// The mux needs the server's own URL for absolute asset links.
	var handler http.Handler
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))

	creds := staticCredentials{
		model.ProviderUnsplash: {AccessKey: cfg.UnsplashKey, AppName: cfg.UnsplashAppName},
		model.ProviderGiphy:    {AccessKey: cfg.GiphyKey},
	}
	svc := imageapi.New(imageapi.Options{
		Adapters: []provider.Adapter{
			provider.NewUnsplash(provider.Options{BaseURL: h.providers.URL()}),
			provider.NewGiphy(provider.Options{BaseURL: h.providers.URL()}),
		},
		Credentials:  creds,
		Importer:     media.NewImporter(disk, 5<<20, []string{"image/jpeg", "image/png", "image/gif"}),
		Ledger:       store,
		Settings:     store,
		BaseURL:      imageapi.StaticBaseURL(h.server.URL),
		Events:       h.events,
		IsHTMLEditor: cfg.HTMLEditor,
	})

	handler = server.NewMux(server.Options{
		Service:     svc,
		Validator:   validator,
		UploadDir:   disk.Root(),
		ReadyChecks: map[string]server.Pinger{"store": store},
	})

	return h, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Providers returns the fake provider servers.
func (h *Harness) Providers() *FakeProviders { return h.providers }

// Store returns the ledger backend.
func (h *Harness) Store() storage.Store { return h.store }

// Events returns the import events published so far.
func (h *Harness) Events() []event.ImageImported { return h.events.Events() }

// Close shuts down the test server and cleans up resources.
func (h *Harness) Close() {
	h.server.Close()
	if h.ownsFakes {
		h.providers.Close()
	}
	h.store.Close()
}

// Post sends a JSON body and returns the status and raw response body.
func (h *Harness) Post(t *testing.T, path, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(h.URL()+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp.StatusCode, raw
}

// Get fetches path and returns the status and raw response body.
func (h *Harness) Get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	if !strings.HasPrefix(path, "http") {
		path = h.URL() + path
	}
	resp, err := http.Get(path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp.StatusCode, raw
}

// ErrorBody is the error envelope returned by every failing route.
type ErrorBody struct {
	Error struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
		Provider      string `json:"provider"`
	} `json:"error"`
}

// Decode unmarshals raw into v or fails the test.
func Decode(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

// ImportBody builds an import request for a search hit.
func ImportBody(item model.StandardImageResult, altText string) string {
	target := model.TargetImageDescriptor{
		ID:       item.ID,
		FileName: item.FileName,
		URLs:     item.URLs,
		AltText:  altText,
		WebURL:   item.URLs.WebURL,
	}
	if item.AuthorName != nil {
		target.AuthorName = *item.AuthorName
	}
	if item.AuthorURL != nil {
		target.AuthorURL = *item.AuthorURL
	}
	if item.OriginalName != nil {
		target.OriginalName = *item.OriginalName
	}
	raw, _ := json.Marshal(model.ImportRequest{TargetImage: target})
	return string(raw)
}

type staticCredentials map[string]model.ProviderCredentials

func (s staticCredentials) Credentials(name string) (model.ProviderCredentials, bool) {
	c, ok := s[name]
	return c, ok
}

// RecordingPublisher keeps published events in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []event.ImageImported
}

func (p *RecordingPublisher) PublishImageImported(ctx context.Context, evt event.ImageImported) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Events returns a copy of the recorded events.
func (p *RecordingPublisher) Events() []event.ImageImported {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.ImageImported(nil), p.events...)
}

// FakeProviders serves the subset of the Unsplash and Giphy APIs the
// adapters use, plus a CDN path for the binaries.
type FakeProviders struct {
	server *httptest.Server

	requests  atomic.Int32
	downloads atomic.Int32

	mu          sync.Mutex
	giphyOffset []int
}

// NewFakeProviders starts the fake provider server.
func NewFakeProviders() *FakeProviders {
	f := &FakeProviders{}
	mux := http.NewServeMux()
	mux.HandleFunc("/search/photos", f.unsplashSearch)
	mux.HandleFunc("/photos/", f.unsplashDownload)
	mux.HandleFunc("/v1/gifs/search", f.giphySearch)
	mux.HandleFunc("/cdn/", f.cdn)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	return f
}

// URL is the base URL of both fake APIs.
func (f *FakeProviders) URL() string { return f.server.URL }

// Requests is the number of requests the fakes have served.
func (f *FakeProviders) Requests() int { return int(f.requests.Load()) }

// Downloads is the number of binaries served from the CDN path.
func (f *FakeProviders) Downloads() int { return int(f.downloads.Load()) }

// GiphyOffsets returns the offset parameter of every Giphy search.
func (f *FakeProviders) GiphyOffsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.giphyOffset...)
}

// Close stops the fake provider server.
func (f *FakeProviders) Close() { f.server.Close() }

func (f *FakeProviders) unsplashSearch(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Client-ID "+ValidUnsplashKey {
		http.Error(w, `{"errors":["OAuth error: The access token is invalid"]}`, http.StatusUnauthorized)
		return
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	results := make([]map[string]any, 0, 2)
	for i, desc := range []any{"Grey cat sleeping on a sofa", nil} {
		id := fmt.Sprintf("photo-%d", i+1)
		results = append(results, map[string]any{
			"id":              id,
			"description":     desc,
			"alt_description": "a cat",
			"urls": map[string]string{
				"raw":     f.URL() + "/cdn/unsplash/" + id + ".jpg?raw",
				"full":    f.URL() + "/cdn/unsplash/" + id + ".jpg?full",
				"regular": f.URL() + "/cdn/unsplash/" + id + ".jpg",
				"small":   f.URL() + "/cdn/unsplash/" + id + ".jpg?w=400",
				"thumb":   f.URL() + "/cdn/unsplash/" + id + ".jpg?w=200",
			},
			"links": map[string]string{
				"html":              "https://unsplash.com/photos/" + id,
				"download_location": f.URL() + "/photos/" + id + "/download",
			},
			"user": map[string]any{
				"name":  "Jane Doe",
				"links": map[string]string{"html": "https://unsplash.com/@jane"},
			},
		})
	}
	writeJSON(w, map[string]any{"total": 1234, "total_pages": 1234 / max(perPage, 1), "results": results})
}

func (f *FakeProviders) unsplashDownload(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Client-ID "+ValidUnsplashKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/photos/"), "/download")
	writeJSON(w, map[string]string{"url": f.URL() + "/cdn/unsplash/" + id + ".jpg?ixid=tracked"})
}

func (f *FakeProviders) giphySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("api_key") != ValidGiphyKey {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	f.mu.Lock()
	f.giphyOffset = append(f.giphyOffset, offset)
	f.mu.Unlock()

	id := "gif-" + strconv.Itoa(offset+1)
	writeJSON(w, map[string]any{
		"data": []map[string]any{{
			"type":  "gif",
			"id":    id,
			"url":   "https://giphy.com/gifs/" + id,
			"title": "Dancing Cat GIF",
			"user": map[string]string{
				"display_name": "Cat Studio",
				"profile_url":  "https://giphy.com/catstudio",
			},
			"images": map[string]any{
				"original":          map[string]string{"url": f.URL() + "/cdn/giphy/" + id + ".gif?original"},
				"downsized":         map[string]string{"url": f.URL() + "/cdn/giphy/" + id + ".gif"},
				"fixed_width":       map[string]string{"url": f.URL() + "/cdn/giphy/" + id + ".gif?w=200"},
				"fixed_width_small": map[string]string{"url": f.URL() + "/cdn/giphy/" + id + ".gif?w=100"},
				"fixed_height":      map[string]string{"url": f.URL() + "/cdn/giphy/" + id + ".gif?h=200"},
			},
		}},
		"pagination": map[string]int{"total_count": 4821, "count": 1, "offset": offset},
		"meta":       map[string]any{"status": 200, "msg": "OK"},
	})
}

func (f *FakeProviders) cdn(w http.ResponseWriter, r *http.Request) {
	f.downloads.Add(1)
	var buf bytes.Buffer
	img := image.NewPaletted(image.Rect(0, 0, 8, 8), color.Palette{color.Black, color.White})
	switch {
	case strings.HasSuffix(r.URL.Path, ".gif"):
		_ = gif.Encode(&buf, img, nil)
	case strings.HasSuffix(r.URL.Path, ".jpg"):
		_ = jpeg.Encode(&buf, img, nil)
	default:
		buf.WriteString("not an image")
	}
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// RunConformanceTests runs the HTTP contract checks against the harness.
// The harness must be configured with valid keys for both providers.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("UnsplashSearch", h.testUnsplashSearch)
	t.Run("GiphyPagination", h.testGiphyPagination)
	t.Run("UnsplashImport", h.testUnsplashImport)
	t.Run("GiphyImport", h.testGiphyImport)
	t.Run("ValidationBeforeNetwork", h.testValidationBeforeNetwork)
	t.Run("Provenance", h.testProvenance)
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		if status, body := h.Get(t, path); status != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d (%s)", path, status, body)
		}
	}
}

func (h *Harness) search(t *testing.T, providerName, body string) model.SearchResultPage {
	t.Helper()
	status, raw := h.Post(t, "/image-api/search-"+providerName+"-images", body)
	if status != http.StatusOK {
		t.Fatalf("search %s: status %d: %s", providerName, status, raw)
	}
	var page model.SearchResultPage
	Decode(t, raw, &page)
	return page
}

func (h *Harness) testUnsplashSearch(t *testing.T) {
	page := h.search(t, model.ProviderUnsplash, `{"query":"cats","pageNumber":1,"pageCount":10}`)

	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.TotalCount != 1234 {
		t.Errorf("totalCount got %d want 1234", page.TotalCount)
	}
	first := page.Items[0]
	if first.AuthorName == nil || *first.AuthorName != "Jane Doe" {
		t.Errorf("authorName got %v want Jane Doe", first.AuthorName)
	}
	if first.FileName != "Grey cat sleeping on a sofa" {
		t.Errorf("fileName got %q", first.FileName)
	}
	if !strings.HasSuffix(first.URLs.Default, "/cdn/unsplash/photo-1.jpg") {
		t.Errorf("default url got %q", first.URLs.Default)
	}
	// description missing: alt_description is used
	if second := page.Items[1]; second.OriginalName == nil || *second.OriginalName != "a cat" {
		t.Errorf("originalName fallback got %v", second.OriginalName)
	}
}

func (h *Harness) testGiphyPagination(t *testing.T) {
	before := len(h.providers.GiphyOffsets())
	page := h.search(t, model.ProviderGiphy, `{"query":"cats","pageNumber":3,"pageCount":25}`)

	offsets := h.providers.GiphyOffsets()
	if len(offsets) != before+1 || offsets[len(offsets)-1] != 50 {
		t.Errorf("giphy offsets got %v, want last offset 50", offsets)
	}
	if page.TotalCount != 4821 {
		t.Errorf("totalCount got %d want 4821", page.TotalCount)
	}
	if page.PageNumber != 3 || page.PageCount != 25 {
		t.Errorf("paging echoed as %d/%d", page.PageNumber, page.PageCount)
	}
}

func (h *Harness) importItem(t *testing.T, providerName string, item model.StandardImageResult, alt string) string {
	t.Helper()
	status, raw := h.Post(t, "/image-api/import-"+providerName+"-image", ImportBody(item, alt))
	if status != http.StatusOK {
		t.Fatalf("import %s: status %d: %s", providerName, status, raw)
	}
	var resp model.ImportResponse
	Decode(t, raw, &resp)
	return resp.ImageContent
}

func (h *Harness) testUnsplashImport(t *testing.T) {
	item := h.search(t, model.ProviderUnsplash, `{"query":"cats"}`).Items[0]
	content := h.importItem(t, model.ProviderUnsplash, item, "A grey cat")

	prefix := "![A grey cat](" + h.URL() + media.UploadsPath
	if !strings.HasPrefix(content, prefix) {
		t.Fatalf("content %q does not start with %q", content, prefix)
	}
	if !strings.Contains(content, "\nPhoto by [Jane Doe](https://unsplash.com/@jane/?utm_source=") {
		t.Errorf("missing author credit in %q", content)
	}

	assetURL := content[len("![A grey cat]("):strings.Index(content, ")")]
	if status, _ := h.Get(t, assetURL); status != http.StatusOK {
		t.Errorf("stored asset %s: status %d", assetURL, status)
	}
}

func (h *Harness) testGiphyImport(t *testing.T) {
	item := h.search(t, model.ProviderGiphy, `{"query":"cats"}`).Items[0]
	first := h.importItem(t, model.ProviderGiphy, item, "")
	second := h.importItem(t, model.ProviderGiphy, item, "")

	if first == second {
		t.Errorf("two imports of the same GIF returned identical content; expected distinct assets")
	}
	logo := logoURL(first)
	if logo == "" || logo != logoURL(second) {
		t.Errorf("logo urls differ or are missing: %q vs %q", first, second)
	}
	if !strings.HasSuffix(first, "](https://giphy.com/gifs/"+item.ID+")") {
		t.Errorf("badge does not link to the GIF page: %q", first)
	}
	if status, _ := h.Get(t, logo); status != http.StatusOK {
		t.Errorf("logo %s: status %d", logo, status)
	}
}

// logoURL extracts the badge image of Giphy markdown content.
func logoURL(content string) string {
	i := strings.Index(content, "[![](")
	if i < 0 {
		return ""
	}
	rest := content[i+len("[![]("):]
	return rest[:strings.Index(rest, ")")]
}

func (h *Harness) testValidationBeforeNetwork(t *testing.T) {
	before := h.providers.Requests()

	status, raw := h.Post(t, "/image-api/import-unsplash-image",
		`{"targetImage":{"id":"photo-1","fileName":"","urls":{"default":"`+h.providers.URL()+`/cdn/unsplash/photo-1.jpg"}}}`)
	if status != http.StatusInternalServerError {
		t.Errorf("status got %d want 500", status)
	}
	var body ErrorBody
	Decode(t, raw, &body)
	if body.Error.Code != "IMG_VALIDATION" {
		t.Errorf("code got %s want IMG_VALIDATION", body.Error.Code)
	}
	if after := h.providers.Requests(); after != before {
		t.Errorf("provider saw %d requests for an invalid import", after-before)
	}
}

func (h *Harness) testProvenance(t *testing.T) {
	status, raw := h.Get(t, "/image-api/imported-images?limit=100")
	if status != http.StatusOK {
		t.Fatalf("imported-images: status %d: %s", status, raw)
	}
	var list model.ImportedImagesResponse
	Decode(t, raw, &list)

	counts := map[string]int{}
	for _, rec := range list.Items {
		counts[rec.Type]++
		if rec.Image.URL == "" || rec.ID == "" {
			t.Errorf("incomplete ledger entry %+v", rec)
		}
	}
	if counts[model.TypeGiphyLogo] != 1 {
		t.Errorf("logo recorded %d times, want exactly once", counts[model.TypeGiphyLogo])
	}
	if counts[model.ProviderUnsplash] < 1 || counts[model.ProviderGiphy] < 2 {
		t.Errorf("ledger counts %v", counts)
	}
	if got := len(h.Events()); got != counts[model.ProviderUnsplash]+counts[model.ProviderGiphy] {
		t.Errorf("published %d events for %v imports", got, counts)
	}
}
