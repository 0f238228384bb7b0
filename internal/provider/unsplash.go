package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// UnsplashAPIBase is the production Unsplash API.
const UnsplashAPIBase = "https://api.unsplash.com"

// Unsplash caps per_page at 30.
const unsplashMaxPageCount = 30

// Unsplash is the Adapter for the Unsplash photo API.
type Unsplash struct {
	c       *client
	baseURL string
}

// NewUnsplash creates an Unsplash adapter.
func NewUnsplash(opts Options) *Unsplash {
	base := opts.BaseURL
	if base == "" {
		base = UnsplashAPIBase
	}
	return &Unsplash{
		c:       opts.client(model.ProviderUnsplash),
		baseURL: strings.TrimRight(base, "/"),
	}
}

func (u *Unsplash) Name() string { return model.ProviderUnsplash }

func (u *Unsplash) DisplayName() string { return "Unsplash" }

func (u *Unsplash) RequiresLogo() bool { return false }

func (u *Unsplash) MaxPageCount() int { return unsplashMaxPageCount }

func (u *Unsplash) authHeader(creds model.ProviderCredentials) http.Header {
	h := http.Header{}
	h.Set("Accept-Version", "v1")
	h.Set("Authorization", "Client-ID "+creds.AccessKey)
	return h
}

// Search calls GET /search/photos and normalizes the result.
func (u *Unsplash) Search(ctx context.Context, creds model.ProviderCredentials, query string, pageNumber, pageCount int) (*model.SearchResultPage, error) {
	pageNumber, pageCount = clampPage(pageNumber, pageCount, unsplashMaxPageCount)

	qParam := url.Values{}
	qParam.Set("query", query)
	qParam.Set("page", strconv.Itoa(pageNumber))
	qParam.Set("per_page", strconv.Itoa(pageCount))

	var data UnsplashSearchResult
	if err := u.c.getJSON(ctx, u.baseURL+"/search/photos?"+qParam.Encode(), u.authHeader(creds), &data); err != nil {
		return nil, err
	}
	return NormalizeUnsplash(data, pageNumber, pageCount), nil
}

type unsplashDownload struct {
	URL string `json:"url"`
}

// Download asks Unsplash for a signed download URL, which also registers the
// download with Unsplash, then fetches the bytes from it.
func (u *Unsplash) Download(ctx context.Context, creds model.ProviderCredentials, target model.TargetImageDescriptor) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/photos/%s/download", u.baseURL, url.PathEscape(target.ID))

	var link unsplashDownload
	if err := u.c.getJSON(ctx, endpoint, u.authHeader(creds), &link); err != nil {
		return nil, err
	}
	if link.URL == "" {
		return nil, errordefs.Upstream(u.Name(), fmt.Errorf("download endpoint returned no url for %s", target.ID))
	}

	return u.c.getBytes(ctx, link.URL)
}
