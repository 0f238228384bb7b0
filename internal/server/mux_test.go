// internal/server/mux_test.go
// Package server provides unit tests for the HTTP handlers and routing.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/auth"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/imageapi"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/media"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/provider"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/storage"
)

// stubAdapter answers searches with a fixed page and downloads with a small PNG.
type stubAdapter struct {
	name string
	png  []byte
}

func (s *stubAdapter) Name() string        { return s.name }
func (s *stubAdapter) MaxPageCount() int   { return 30 }
func (s *stubAdapter) DisplayName() string { return s.name }
func (s *stubAdapter) RequiresLogo() bool  { return s.name == model.ProviderGiphy }

func (s *stubAdapter) Search(ctx context.Context, creds model.ProviderCredentials, query string, pageNumber, pageCount int) (*model.SearchResultPage, error) {
	return &model.SearchResultPage{
		Items: []model.StandardImageResult{{
			ID:           "abc",
			Type:         s.name,
			OriginalName: model.StringPtr("grey cat on a sofa"),
			URLs:         model.ImageURLs{Default: "https://cdn.example/abc.png"},
		}},
		PageNumber: pageNumber,
		PageCount:  pageCount,
		TotalCount: 1,
	}, nil
}

func (s *stubAdapter) Download(ctx context.Context, creds model.ProviderCredentials, target model.TargetImageDescriptor) ([]byte, error) {
	return s.png, nil
}

type creds map[string]model.ProviderCredentials

func (c creds) Credentials(name string) (model.ProviderCredentials, bool) {
	v, ok := c[name]
	return v, ok
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

type fixture struct {
	handler   http.Handler
	store     storage.Store
	uploadDir string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	uploadDir := t.TempDir()
	disk, err := media.NewDiskStore(uploadDir, 0)
	require.NoError(t, err)
	store := storage.NewMemory()
	pixel := tinyPNG(t)

	svc := imageapi.New(imageapi.Options{
		Adapters: []provider.Adapter{
			&stubAdapter{name: model.ProviderUnsplash, png: pixel},
			&stubAdapter{name: model.ProviderGiphy, png: pixel},
		},
		Credentials: creds{model.ProviderUnsplash: {AccessKey: "k", AppName: "MyApp"}},
		Importer:    media.NewImporter(disk, 1<<20, nil),
		Ledger:      store,
		Settings:    store,
		BaseURL:     imageapi.StaticBaseURL("https://cms.example"),
	})
	validator, err := schema.NewValidator()
	require.NoError(t, err)

	opts := Options{
		Service:     svc,
		Validator:   validator,
		UploadDir:   uploadDir,
		ReadyChecks: map[string]Pinger{"store": store},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{handler: NewMux(opts), store: store, uploadDir: uploadDir}
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Error struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
		Provider      string `json:"provider"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

// TestHealthzEndpoint tests the healthz endpoint.
func TestHealthzEndpoint(t *testing.T) {
	rr := newFixture(t, nil).do(t, "GET", "/healthz", "", nil)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), "ok")
	}
}

// TestReadyzEndpoint tests the readyz endpoint with healthy and failing dependencies.
func TestReadyzEndpoint(t *testing.T) {
	rr := newFixture(t, nil).do(t, "GET", "/readyz", "", nil)
	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	failing := newFixture(t, func(o *Options) {
		o.ReadyChecks["assets"] = pingFunc(func(ctx context.Context) error { return errors.New("bucket gone") })
	})
	rr = failing.do(t, "GET", "/readyz", "", nil)
	if status := rr.Code; status != http.StatusServiceUnavailable {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusServiceUnavailable)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rr := newFixture(t, nil).do(t, "GET", "/image-api/search-unsplash-images", "", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.Equal(t, "IMG_BAD_REQUEST", env.Error.Code)
	assert.NotEmpty(t, env.Error.CorrelationID)
}

func TestSearch(t *testing.T) {
	rr := newFixture(t, nil).do(t, "POST", "/image-api/search-unsplash-images",
		`{"query":"cats","pageNumber":2,"pageCount":5}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var page model.SearchResultPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, 2, page.PageNumber)
	assert.Equal(t, 5, page.PageCount)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "grey cat on a sofa", page.Items[0].FileName)
}

func TestSearchRejectsBadBodies(t *testing.T) {
	f := newFixture(t, nil)

	for name, body := range map[string]string{
		"malformed":        `{"query":`,
		"wrong type":       `{"query":"cats","pageNumber":"2"}`,
		"empty body":       ``,
		"array not object": `[]`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := f.do(t, "POST", "/image-api/search-unsplash-images", body, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "IMG_BAD_REQUEST", decodeEnvelope(t, rr).Error.Code)
		})
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	rr := newFixture(t, nil).do(t, "POST", "/image-api/search-unsplash-images", `{"query":"  "}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "IMG_VALIDATION", decodeEnvelope(t, rr).Error.Code)
}

func TestMissingCredentials(t *testing.T) {
	rr := newFixture(t, nil).do(t, "POST", "/image-api/search-giphy-images", `{"query":"cats"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.Equal(t, "IMG_CONFIGURATION", env.Error.Code)
	assert.Equal(t, "giphy", env.Error.Provider)
	assert.Contains(t, env.Error.Message, "accessKey")
}

func TestImportAndList(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, "POST", "/image-api/import-unsplash-image", `{"targetImage":{
		"id":"abc","fileName":"grey cat","altText":"A cat",
		"authorName":"Jane","authorUrl":"https://unsplash.com/@jane",
		"urls":{"default":"https://cdn.example/abc.png"}}}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp model.ImportResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ImageContent, "![A cat](https://cms.example/uploads/"), resp.ImageContent)
	assert.Contains(t, resp.ImageContent, "Photo by [Jane](https://unsplash.com/@jane/?utm_source=MyApp&utm_medium=referral)")

	rr = f.do(t, "GET", "/image-api/imported-images?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var list model.ImportedImagesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "abc", list.Items[0].OriginalID)
	assert.Equal(t, "unsplash", list.Items[0].Type)

	// The stored file is served from /uploads/
	rr = f.do(t, "GET", list.Items[0].Image.URL, "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
}

func TestImportValidation(t *testing.T) {
	rr := newFixture(t, nil).do(t, "POST", "/image-api/import-unsplash-image",
		`{"targetImage":{"id":"abc","fileName":"","urls":{"default":"https://cdn.example/abc.png"}}}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "IMG_VALIDATION", decodeEnvelope(t, rr).Error.Code)
}

func TestListImportsBadLimit(t *testing.T) {
	rr := newFixture(t, nil).do(t, "GET", "/image-api/imported-images?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadsDirectoryListingHidden(t *testing.T) {
	rr := newFixture(t, nil).do(t, "GET", "/uploads/", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCorrelationID(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, "POST", "/image-api/search-giphy-images", `{"query":"cats"}`,
		http.Header{HeaderCorrelationID: {"req-42"}})

	assert.Equal(t, "req-42", rr.Header().Get(HeaderCorrelationID))
	assert.Equal(t, "req-42", decodeEnvelope(t, rr).Error.CorrelationID)
}

func TestBrotliResponse(t *testing.T) {
	rr := newFixture(t, nil).do(t, "POST", "/image-api/search-unsplash-images", `{"query":"cats"}`,
		http.Header{"Accept-Encoding": {"br"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "br", rr.Header().Get("Content-Encoding"))

	raw, err := io.ReadAll(brotli.NewReader(rr.Body))
	require.NoError(t, err)
	var page model.SearchResultPage
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Len(t, page.Items, 1)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.CORSAllowedOrigins = []string{"https://admin.example"} })

	rr := f.do(t, "OPTIONS", "/image-api/import-giphy-image", "", http.Header{"Origin": {"https://admin.example"}})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://admin.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), HeaderCorrelationID)

	rr = f.do(t, "OPTIONS", "/image-api/import-giphy-image", "", http.Header{"Origin": {"https://evil.example"}})
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminPolicy(t *testing.T) {
	const secret = "s3cret"
	f := newFixture(t, func(o *Options) { o.Verifier = auth.NewVerifier(secret) })

	token := func(claims auth.Claims) string {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return "Bearer " + s
	}

	tests := []struct {
		name   string
		header http.Header
		status int
		code   string
	}{
		{"no token", nil, http.StatusUnauthorized, "IMG_AUTHN"},
		{"garbage token", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized, "IMG_AUTHN"},
		{"not admin", http.Header{"Authorization": {token(auth.Claims{Role: "author"})}}, http.StatusForbidden, "IMG_AUTHZ"},
		{"admin", http.Header{"Authorization": {token(auth.Claims{Role: "admin"})}}, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, "POST", "/image-api/search-unsplash-images", `{"query":"cats"}`, tt.header)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeEnvelope(t, rr).Error.Code)
			}
		})
	}

	// Ops endpoints stay open
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/healthz", "", nil).Code)
}
