// internal/media/disk.go
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

// UploadsPath is the URL prefix DiskStore assets are served under.
const UploadsPath = "/uploads/"

// DiskStore writes assets below a local directory and returns
// site-relative /uploads/<key> URLs.
type DiskStore struct {
	processor
	root string
}

// NewDiskStore creates the upload directory if needed.
func NewDiskStore(root string, maxDimension int) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DiskStore{processor: processor{maxDimension: maxDimension}, root: root}, nil
}

// Root is the directory assets are written to.
func (d *DiskStore) Root() string { return d.root }

func (d *DiskStore) UploadAndPersist(ctx context.Context, f *File, info FileInfo) (*model.StoredAsset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := filepath.Join(d.root, filepath.FromSlash(info.Key))
	if !strings.HasPrefix(target, filepath.Clean(d.root)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("invalid object key %q", info.Key)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}

	// Write then rename so readers never see a partial file
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, f.Data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write asset: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to store asset: %w", err)
	}

	return storedAsset(info, UploadsPath+info.Key), nil
}
