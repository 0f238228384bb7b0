package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// GiphyAPIBase is the production Giphy API.
const GiphyAPIBase = "https://api.giphy.com"

// Giphy caps limit at 50 for beta keys.
const giphyMaxPageCount = 50

// Giphy is the Adapter for the Giphy GIF search API.
type Giphy struct {
	c       *client
	baseURL string
}

// NewGiphy creates a Giphy adapter.
func NewGiphy(opts Options) *Giphy {
	base := opts.BaseURL
	if base == "" {
		base = GiphyAPIBase
	}
	return &Giphy{
		c:       opts.client(model.ProviderGiphy),
		baseURL: strings.TrimRight(base, "/"),
	}
}

func (g *Giphy) Name() string { return model.ProviderGiphy }

func (g *Giphy) DisplayName() string { return "GIPHY" }

// RequiresLogo is true: GIPHY content must be shown with the "Powered by GIPHY" badge.
func (g *Giphy) RequiresLogo() bool { return true }

func (g *Giphy) MaxPageCount() int { return giphyMaxPageCount }

// GiphyOffset is the result offset of a 1-based page.
func GiphyOffset(pageNumber, pageCount int) int {
	return (pageNumber - 1) * pageCount
}

// Search calls GET /v1/gifs/search and normalizes the result.
func (g *Giphy) Search(ctx context.Context, creds model.ProviderCredentials, query string, pageNumber, pageCount int) (*model.SearchResultPage, error) {
	pageNumber, pageCount = clampPage(pageNumber, pageCount, giphyMaxPageCount)

	qParam := url.Values{}
	qParam.Set("api_key", creds.AccessKey)
	qParam.Set("q", query)
	qParam.Set("limit", strconv.Itoa(pageCount))
	qParam.Set("offset", strconv.Itoa(GiphyOffset(pageNumber, pageCount)))

	var data GiphySearchResult
	if err := g.c.getJSON(ctx, g.baseURL+"/v1/gifs/search?"+qParam.Encode(), nil, &data); err != nil {
		return nil, err
	}
	return NormalizeGiphy(data, pageNumber, pageCount), nil
}

// Download fetches urls.default directly; Giphy media URLs are public.
func (g *Giphy) Download(ctx context.Context, creds model.ProviderCredentials, target model.TargetImageDescriptor) ([]byte, error) {
	if target.URLs.Default == "" {
		return nil, errordefs.Upstream(g.Name(), fmt.Errorf("no download url for %s", target.ID))
	}
	return g.c.getBytes(ctx, target.URLs.Default)
}
