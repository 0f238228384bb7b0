// internal/media/importer.go
package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// Importer validates downloaded binaries and hands them to an AssetStore.
type Importer struct {
	store   AssetStore
	maxSize int64
	allowed map[string]struct{}
}

// NewImporter creates an importer. maxSize <= 0 disables the size check and
// an empty allowed list accepts every image/* type.
func NewImporter(store AssetStore, maxSize int64, allowedMimeTypes []string) *Importer {
	allowed := make(map[string]struct{}, len(allowedMimeTypes))
	for _, m := range allowedMimeTypes {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &Importer{store: store, maxSize: maxSize, allowed: allowed}
}

// DetectMimeType sniffs the MIME type of data without parameters.
// Unknown content yields application/octet-stream.
func DetectMimeType(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// ImportBinary stores data as a new asset. Each call creates a distinct
// asset, identical input is never deduplicated.
func (im *Importer) ImportBinary(ctx context.Context, data []byte, fileName, altText, caption, mimeHint string) (*model.StoredAsset, error) {
	mime := strings.ToLower(strings.TrimSpace(mimeHint))
	if mime == "" {
		mime = DetectMimeType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, errordefs.UnrecognizedFormat("unable to determine an image type for %q (detected %s)", fileName, mime)
	}
	if len(im.allowed) > 0 {
		if _, ok := im.allowed[mime]; !ok {
			return nil, errordefs.UnrecognizedFormat("image type %s is not allowed", mime)
		}
	}
	if im.maxSize > 0 && int64(len(data)) > im.maxSize {
		return nil, errordefs.Import(fmt.Errorf("file is %d bytes, limit is %d", len(data), im.maxSize))
	}

	file := &File{
		Data:     data,
		Name:     fileName,
		MimeType: mime,
		AltText:  altText,
		Caption:  caption,
	}

	optimized, err := im.store.Optimize(ctx, file)
	if err != nil {
		return nil, errordefs.Import(err)
	}
	info := im.store.FormatFileInfo(optimized)

	asset, err := im.store.UploadAndPersist(ctx, optimized, info)
	if err != nil {
		return nil, errordefs.Import(err)
	}
	return asset, nil
}
