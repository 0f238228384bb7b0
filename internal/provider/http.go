package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
)

// client performs provider calls and classifies their failures.
type client struct {
	hc       *http.Client
	provider string
	maxBytes int64
}

// get issues a GET and returns the response when the status is 2xx.
// With keyed set, 401/403 become IMG_PROVIDER_AUTH; every other failure is
// IMG_UPSTREAM. Unkeyed requests carry no credential, so a 401/403 there
// says nothing about the configured key.
func (c *client) get(ctx context.Context, rawURL string, header http.Header, keyed bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errordefs.Upstream(c.provider, fmt.Errorf("failed to create request: %w", redact(err)))
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errordefs.Upstream(c.provider, redact(err))
	}

	switch {
	case keyed && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
		resp.Body.Close()
		return nil, errordefs.ProviderAuthorization(c.provider, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, errordefs.Upstream(c.provider, fmt.Errorf("unexpected status %s: %s", resp.Status, body))
	}
	return resp, nil
}

// getJSON decodes a 2xx JSON response into out.
func (c *client) getJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	resp, err := c.get(ctx, rawURL, header, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errordefs.Upstream(c.provider, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// getBytes reads a 2xx response body from a public or pre-signed media URL.
// Bodies larger than maxBytes are an IMG_IMPORT error, the same outcome as
// the importer's size limit.
func (c *client) getBytes(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, rawURL, nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, errordefs.Upstream(c.provider, fmt.Errorf("failed to read image: %w", redact(err)))
	}
	if int64(len(data)) > c.maxBytes {
		return nil, errordefs.Import(fmt.Errorf("image exceeds %d bytes", c.maxBytes)).WithProvider(c.provider)
	}
	return data, nil
}

// redact strips the query string from URLs embedded in transport errors,
// some providers take the api key as a query parameter.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, perr := url.Parse(urlErr.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
		}
	}
	return err
}
