// internal/model/image.go
// Package model defines the data structures shared by the image-api service.
// Search results from every provider are normalized into these shapes before
// they reach the admin UI, and imports are described and recorded with them.
package model

import (
	"time"
)

// Provider names. They double as the ImportedImageRecord type of imported assets.
const (
	ProviderUnsplash = "unsplash"
	ProviderGiphy    = "giphy"

	// TypeGiphyLogo is the ledger type of the cached "Powered by GIPHY" badge.
	TypeGiphyLogo = "giphy-logo"
)

// ImageURLs holds the named variants of a provider image.
type ImageURLs struct {
	WebURL   string `json:"webUrl,omitempty"`   // Provider page for the image
	Original string `json:"original,omitempty"` // Full-size original
	Thumb    string `json:"thumb,omitempty"`    // Grid thumbnail
	Small    string `json:"small,omitempty"`
	Regular  string `json:"regular,omitempty"`
	Large    string `json:"large,omitempty"`
	Default  string `json:"default"`            // The variant that gets downloaded
	Download string `json:"download,omitempty"` // Provider-tracked download endpoint
}

// StandardImageResult is one normalized search hit.
type StandardImageResult struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	OriginalName *string   `json:"originalName"`
	AuthorName   *string   `json:"authorName"`
	AuthorURL    *string   `json:"authorUrl"`
	URLs         ImageURLs `json:"urls"`

	// FileName is the suggested import filename, filled in by the orchestrator.
	FileName string `json:"fileName,omitempty"`
}

// SearchResultPage is one page of normalized results, in provider ranking order.
type SearchResultPage struct {
	Items      []StandardImageResult `json:"items"`
	PageNumber int                   `json:"pageNumber"`
	PageCount  int                   `json:"pageCount"`
	TotalCount int                   `json:"totalCount"`
}

// SearchRequest is the body of the search-*-images routes.
type SearchRequest struct {
	PageNumber int    `json:"pageNumber"`
	Query      string `json:"query"`
	PageCount  int    `json:"pageCount"`
}

// TargetImageDescriptor is the user-confirmed import request.
type TargetImageDescriptor struct {
	ID           string    `json:"id"`
	FileName     string    `json:"fileName"`
	URLs         ImageURLs `json:"urls"`
	AltText      string    `json:"altText,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	AuthorName   string    `json:"authorName,omitempty"`
	AuthorURL    string    `json:"authorUrl,omitempty"`
	OriginalName string    `json:"originalName,omitempty"`
	WebURL       string    `json:"webUrl,omitempty"`
}

// ImportRequest is the body of the import-*-image routes.
type ImportRequest struct {
	TargetImage TargetImageDescriptor `json:"targetImage"`
}

// ImportResponse is returned by the import-*-image routes.
type ImportResponse struct {
	ImageContent string `json:"imageContent"`
}

// StoredAsset is the Asset Store's reference to a persisted binary.
type StoredAsset struct {
	ID        string    `json:"id" db:"id"`
	URL       string    `json:"url" db:"url"`
	Name      string    `json:"name" db:"name"`
	Key       string    `json:"key" db:"object_key"` // Object key inside the store
	MimeType  string    `json:"mime" db:"mime_type"`
	Size      int64     `json:"size" db:"size"`
	Width     int       `json:"width,omitempty" db:"width"`
	Height    int       `json:"height,omitempty" db:"height"`
	AltText   string    `json:"alternativeText,omitempty" db:"alt_text"`
	Caption   string    `json:"caption,omitempty" db:"caption"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// AssetRef is the part of a StoredAsset the ledger keeps.
type AssetRef struct {
	ID  string `json:"id" db:"image_id"`
	URL string `json:"url" db:"image_url"`
}

// ImportedImageRecord is one provenance ledger entry. Immutable once written.
type ImportedImageRecord struct {
	ID           string    `json:"id" db:"id"`
	Type         string    `json:"type" db:"type"`
	Image        AssetRef  `json:"image"`
	OriginalID   string    `json:"originalId,omitempty" db:"original_id"`
	OriginalName string    `json:"originalName,omitempty" db:"original_name"`
	OriginalURL  string    `json:"originalUrl,omitempty" db:"original_url"`
	AuthorName   string    `json:"authorName,omitempty" db:"author_name"`
	AuthorURL    string    `json:"authorUrl,omitempty" db:"author_url"`
	WebURL       string    `json:"webUrl,omitempty" db:"web_url"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// ImportedImagesResponse is returned by the imported-images listing.
type ImportedImagesResponse struct {
	Items []ImportedImageRecord `json:"items"`
}

// ProviderCredentials are the per-provider settings read from configuration.
type ProviderCredentials struct {
	AccessKey string `json:"accessKey"`
	AppName   string `json:"appName,omitempty"` // Used in attribution query strings
}

// StringPtr returns nil for an empty string and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
