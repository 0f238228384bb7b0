// internal/media/media.go
// Package media persists imported image binaries. An AssetStore optimizes a
// file, derives its stored name and key, uploads it and returns the
// StoredAsset the rest of the service references.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// File is an image binary moving through the asset pipeline.
type File struct {
	Data     []byte
	Name     string // Requested filename, extension optional
	MimeType string
	AltText  string
	Caption  string
	Width    int // Filled by Optimize when the format is decodable
	Height   int
}

// FileInfo is the naming metadata an AssetStore persists a File under.
type FileInfo struct {
	ID       string // Asset id
	Name     string // slug + extension
	Ext      string
	Key      string // <ulid>/<name>
	MimeType string
	Size     int64
	Width    int
	Height   int
	AltText  string
	Caption  string
}

// AssetStore is the media library the importer writes to.
type AssetStore interface {
	// Optimize may downscale the binary and fills in its dimensions.
	Optimize(ctx context.Context, f *File) (*File, error)
	// FormatFileInfo derives the stored name, key and metadata of f.
	FormatFileInfo(f *File) FileInfo
	// UploadAndPersist writes the binary and returns the persisted asset.
	UploadAndPersist(ctx context.Context, f *File, info FileInfo) (*model.StoredAsset, error)
}

// processor implements the store-independent half of AssetStore.
type processor struct {
	maxDimension int // 0 disables downscaling
}

// Optimize reads the image dimensions and, for still images larger than
// maxDimension on either side, re-encodes a downscaled copy. GIFs are left
// untouched so animations survive; undecodable formats pass through as-is.
func (p processor) Optimize(ctx context.Context, f *File) (*File, error) {
	out := *f

	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return &out, nil
	}
	out.Width, out.Height = cfg.Width, cfg.Height

	if p.maxDimension <= 0 || f.MimeType == "image/gif" {
		return &out, nil
	}
	if cfg.Width <= p.maxDimension && cfg.Height <= p.maxDimension {
		return &out, nil
	}

	format, ok := encodeFormat(f.MimeType)
	if !ok {
		return &out, nil
	}

	img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	resized := imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	out.Data = buf.Bytes()
	out.Width = resized.Bounds().Dx()
	out.Height = resized.Bounds().Dy()
	return &out, nil
}

func encodeFormat(mime string) (imaging.Format, bool) {
	switch mime {
	case "image/jpeg":
		return imaging.JPEG, true
	case "image/png":
		return imaging.PNG, true
	case "image/bmp":
		return imaging.BMP, true
	case "image/tiff":
		return imaging.TIFF, true
	}
	return 0, false
}

// FormatFileInfo slugifies the requested name and appends the extension of
// the file's MIME type.
func (p processor) FormatFileInfo(f *File) FileInfo {
	ext := ExtensionFor(f.MimeType)

	base := f.Name
	if e := path.Ext(base); imageExtensions[strings.ToLower(e)] {
		base = strings.TrimSuffix(base, e)
	}
	slug := Slugify(base)
	if slug == "" {
		slug = "image"
	}
	name := slug + ext

	return FileInfo{
		ID:       uuid.NewString(),
		Name:     name,
		Ext:      ext,
		Key:      strings.ToLower(ulid.Make().String()) + "/" + name,
		MimeType: f.MimeType,
		Size:     int64(len(f.Data)),
		Width:    f.Width,
		Height:   f.Height,
		AltText:  f.AltText,
		Caption:  f.Caption,
	}
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".tif": true, ".tiff": true, ".svg": true, ".avif": true,
}

// ExtensionFor returns the canonical extension of an image MIME type.
func ExtensionFor(mime string) string {
	if mime == "image/jpeg" {
		return ".jpg"
	}
	if m := mimetype.Lookup(mime); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if i := strings.IndexByte(mime, '/'); i >= 0 && i < len(mime)-1 {
		return "." + strings.ToLower(mime[i+1:])
	}
	return ""
}

// Slugify lowercases s and collapses every run of non-alphanumerics into a dash.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if r < unicode.MaxASCII {
				b.WriteRune(r)
				dash = false
				continue
			}
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func storedAsset(info FileInfo, url string) *model.StoredAsset {
	return &model.StoredAsset{
		ID:        info.ID,
		URL:       url,
		Name:      info.Name,
		Key:       info.Key,
		MimeType:  info.MimeType,
		Size:      info.Size,
		Width:     info.Width,
		Height:    info.Height,
		AltText:   info.AltText,
		Caption:   info.Caption,
		CreatedAt: time.Now().UTC(),
	}
}
