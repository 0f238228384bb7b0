package provider

import (
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// UnsplashSearchResult is the body of GET /search/photos.
type UnsplashSearchResult struct {
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
	Results    []UnsplashPhoto `json:"results"`
}

type UnsplashPhoto struct {
	ID             string             `json:"id"`
	Width          int                `json:"width"`
	Height         int                `json:"height"`
	Description    *string            `json:"description"`
	AltDescription *string            `json:"alt_description"`
	URLs           UnsplashURLs       `json:"urls"`
	Links          UnsplashPhotoLinks `json:"links"`
	User           *UnsplashUser      `json:"user"`
}

type UnsplashURLs struct {
	Raw     string `json:"raw"`
	Full    string `json:"full"`
	Regular string `json:"regular"`
	Small   string `json:"small"`
	Thumb   string `json:"thumb"`
}

type UnsplashPhotoLinks struct {
	Self             string `json:"self"`
	HTML             string `json:"html"`
	Download         string `json:"download"`
	DownloadLocation string `json:"download_location"`
}

type UnsplashUser struct {
	ID       string            `json:"id"`
	Username string            `json:"username"`
	Name     string            `json:"name"`
	Links    UnsplashUserLinks `json:"links"`
}

type UnsplashUserLinks struct {
	Self   string `json:"self"`
	HTML   string `json:"html"`
	Photos string `json:"photos"`
	Likes  string `json:"likes"`
}

// NormalizeUnsplash maps an Unsplash search response into a SearchResultPage.
func NormalizeUnsplash(raw UnsplashSearchResult, pageNumber, pageCount int) *model.SearchResultPage {
	items := make([]model.StandardImageResult, len(raw.Results))
	for i, el := range raw.Results {
		name := el.Description
		if name == nil || *name == "" {
			name = el.AltDescription
		}

		item := model.StandardImageResult{
			ID:           el.ID,
			Type:         "image",
			OriginalName: nonEmpty(name),
			URLs: model.ImageURLs{
				WebURL:   el.Links.HTML,
				Original: el.URLs.Raw,
				Thumb:    el.URLs.Thumb,
				Small:    el.URLs.Small,
				Regular:  el.URLs.Regular,
				Large:    el.URLs.Full,
				Default:  firstOf(el.URLs.Regular, el.URLs.Full, el.URLs.Raw),
				Download: el.Links.DownloadLocation,
			},
		}
		if el.User != nil {
			item.AuthorName = model.StringPtr(el.User.Name)
			item.AuthorURL = model.StringPtr(el.User.Links.HTML)
		}
		items[i] = item
	}

	return &model.SearchResultPage{
		Items:      items,
		PageNumber: pageNumber,
		PageCount:  pageCount,
		TotalCount: raw.Total,
	}
}

// GiphySearchResult is the body of GET /v1/gifs/search.
type GiphySearchResult struct {
	Data       []GiphyGIF      `json:"data"`
	Pagination GiphyPagination `json:"pagination"`
	Meta       GiphyMeta       `json:"meta"`
}

type GiphyGIF struct {
	Type     string      `json:"type"`
	ID       string      `json:"id"`
	URL      string      `json:"url"`
	Title    string      `json:"title"`
	Username string      `json:"username"`
	User     *GiphyUser  `json:"user"`
	Images   GiphyImages `json:"images"`
}

type GiphyUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	ProfileURL  string `json:"profile_url"`
	AvatarURL   string `json:"avatar_url"`
}

type GiphyImages struct {
	Original        GiphyRendition `json:"original"`
	Downsized       GiphyRendition `json:"downsized"`
	DownsizedLarge  GiphyRendition `json:"downsized_large"`
	FixedWidth      GiphyRendition `json:"fixed_width"`
	FixedWidthSmall GiphyRendition `json:"fixed_width_small"`
	FixedHeight     GiphyRendition `json:"fixed_height"`
	PreviewGIF      GiphyRendition `json:"preview_gif"`
}

type GiphyRendition struct {
	URL    string `json:"url"`
	Width  string `json:"width"`
	Height string `json:"height"`
}

type GiphyPagination struct {
	TotalCount int `json:"total_count"`
	Count      int `json:"count"`
	Offset     int `json:"offset"`
}

type GiphyMeta struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// NormalizeGiphy maps a Giphy search response into a SearchResultPage.
// TotalCount is pagination.total_count as reported, not divided by page size.
func NormalizeGiphy(raw GiphySearchResult, pageNumber, pageCount int) *model.SearchResultPage {
	items := make([]model.StandardImageResult, len(raw.Data))
	for i, el := range raw.Data {
		img := el.Images
		item := model.StandardImageResult{
			ID:           el.ID,
			Type:         firstOf(el.Type, "gif"),
			OriginalName: model.StringPtr(el.Title),
			URLs: model.ImageURLs{
				WebURL:   el.URL,
				Original: img.Original.URL,
				Thumb:    firstOf(img.FixedWidthSmall.URL, img.PreviewGIF.URL, img.FixedWidth.URL),
				Small:    img.FixedWidth.URL,
				Regular:  img.FixedHeight.URL,
				Large:    firstOf(img.DownsizedLarge.URL, img.Original.URL),
				Default:  firstOf(img.Downsized.URL, img.Original.URL, img.DownsizedLarge.URL, img.FixedHeight.URL, img.FixedWidth.URL),
			},
		}
		if el.User != nil {
			item.AuthorName = model.StringPtr(el.User.DisplayName)
			item.AuthorURL = model.StringPtr(el.User.ProfileURL)
		}
		items[i] = item
	}

	return &model.SearchResultPage{
		Items:      items,
		PageNumber: pageNumber,
		PageCount:  pageCount,
		TotalCount: raw.Pagination.TotalCount,
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
