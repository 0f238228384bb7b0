// Package provider implements the third-party image search adapters.
// Each adapter knows how to query its provider, normalize the response into
// model.SearchResultPage and fetch the binary of a selected image.
package provider

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// Adapter is the capability set every provider exposes to the orchestrator.
type Adapter interface {
	// Name is the provider tag used in routes, errors and ledger records.
	Name() string
	// DisplayName is the provider name shown to editors.
	DisplayName() string
	// RequiresLogo reports whether attribution must carry the provider badge.
	RequiresLogo() bool
	// MaxPageCount is the largest page size the provider accepts.
	MaxPageCount() int
	// Search queries the provider and returns a normalized page.
	Search(ctx context.Context, creds model.ProviderCredentials, query string, pageNumber, pageCount int) (*model.SearchResultPage, error)
	// Download returns the raw bytes of the selected image.
	Download(ctx context.Context, creds model.ProviderCredentials, target model.TargetImageDescriptor) ([]byte, error)
}

// Options configures an adapter.
type Options struct {
	BaseURL         string        // Provider API base, overridable for tests
	HTTPClient      *http.Client  // Defaults to NewHTTPClient(Timeout)
	Timeout         time.Duration // Per-call timeout when HTTPClient is nil
	MaxDownloadSize int64         // Bytes read from a download before giving up; 0 means 20MB
}

const defaultMaxDownloadSize = 20 * 1024 * 1024

// NewHTTPClient returns a client with connection and request timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConnsPerHost: 4,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func (o Options) client(provider string) *client {
	hc := o.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(o.Timeout)
	}
	max := o.MaxDownloadSize
	if max <= 0 {
		max = defaultMaxDownloadSize
	}
	return &client{hc: hc, provider: provider, maxBytes: max}
}

// clampPage normalizes pagination input against a provider maximum.
func clampPage(pageNumber, pageCount, max int) (int, int) {
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageCount < 1 {
		pageCount = 10
	}
	if pageCount > max {
		pageCount = max
	}
	return pageNumber, pageCount
}
