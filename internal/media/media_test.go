package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
)

func encodeImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "image/png", DetectMimeType(encodeImage(t, 2, 2, imaging.PNG)))
	assert.Equal(t, "image/gif", DetectMimeType(encodeImage(t, 2, 2, imaging.GIF)))
	assert.Equal(t, "image/jpeg", DetectMimeType(encodeImage(t, 2, 2, imaging.JPEG)))
	assert.Equal(t, "text/plain", DetectMimeType([]byte("just some words")))
	assert.Equal(t, "application/octet-stream", DetectMimeType([]byte{0x00, 0x01, 0x02, 0xff, 0xfe}))
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Cat":                   "my-cat",
		"  spaced   out  ":         "spaced-out",
		"Dancing Cat GIF!!":        "dancing-cat-gif",
		"already-a-slug_2":         "already-a-slug-2",
		"Café au lait":             "caf-au-lait",
		"":                         "",
		"9f1c2b5e-uuid-like-token": "9f1c2b5e-uuid-like-token",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".png", ExtensionFor("image/png"))
	assert.Equal(t, ".gif", ExtensionFor("image/gif"))
	assert.Equal(t, ".webp", ExtensionFor("image/webp"))
}

func newDiskImporter(t *testing.T, maxDim int, maxSize int64, allowed ...string) (*Importer, *DiskStore) {
	t.Helper()
	store, err := NewDiskStore(filepath.Join(t.TempDir(), "uploads"), maxDim)
	require.NoError(t, err)
	return NewImporter(store, maxSize, allowed), store
}

func TestImportBinaryToDisk(t *testing.T) {
	im, store := newDiskImporter(t, 16, 0)
	data := encodeImage(t, 40, 20, imaging.PNG)

	asset, err := im.ImportBinary(context.Background(), data, "My Cat.png", "a cat", "by Jane", "")
	require.NoError(t, err)

	assert.NotEmpty(t, asset.ID)
	assert.Equal(t, "my-cat.png", asset.Name)
	assert.Equal(t, "image/png", asset.MimeType)
	assert.True(t, strings.HasPrefix(asset.URL, "/uploads/"), asset.URL)
	assert.True(t, strings.HasSuffix(asset.URL, "/my-cat.png"), asset.URL)
	assert.Equal(t, 16, asset.Width, "downscaled to the max dimension")
	assert.Equal(t, 8, asset.Height)
	assert.Equal(t, "a cat", asset.AltText)
	assert.Equal(t, "by Jane", asset.Caption)

	stored, err := os.ReadFile(filepath.Join(store.Root(), filepath.FromSlash(asset.Key)))
	require.NoError(t, err)
	assert.Equal(t, asset.Size, int64(len(stored)))
	cfg, _, err := image.DecodeConfig(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
}

func TestImportBinaryIsNotDeduplicated(t *testing.T) {
	im, _ := newDiskImporter(t, 0, 0)
	data := encodeImage(t, 4, 4, imaging.PNG)

	a, err := im.ImportBinary(context.Background(), data, "same", "", "", "")
	require.NoError(t, err)
	b, err := im.ImportBinary(context.Background(), data, "same", "", "", "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.URL, b.URL)
}

func TestImportBinaryKeepsGIFs(t *testing.T) {
	im, store := newDiskImporter(t, 8, 0)
	data := encodeImage(t, 32, 32, imaging.GIF)

	asset, err := im.ImportBinary(context.Background(), data, "dance.gif", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "dance.gif", asset.Name)
	assert.Equal(t, 32, asset.Width)

	stored, err := os.ReadFile(filepath.Join(store.Root(), filepath.FromSlash(asset.Key)))
	require.NoError(t, err)
	assert.Equal(t, data, stored, "gif bytes are untouched")
}

func TestImportBinaryRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown bytes", func(t *testing.T) {
		im, _ := newDiskImporter(t, 0, 0)
		_, err := im.ImportBinary(ctx, []byte{0x00, 0x01, 0x02, 0xff}, "x", "", "", "")
		assert.Equal(t, errordefs.IMG_UNRECOGNIZED_FORMAT, errordefs.CodeOf(err))
	})

	t.Run("not an image", func(t *testing.T) {
		im, _ := newDiskImporter(t, 0, 0)
		_, err := im.ImportBinary(ctx, []byte("<html><body>denied</body></html>"), "x", "", "", "")
		assert.Equal(t, errordefs.IMG_UNRECOGNIZED_FORMAT, errordefs.CodeOf(err))
	})

	t.Run("type not allowed", func(t *testing.T) {
		im, _ := newDiskImporter(t, 0, 0, "image/png")
		_, err := im.ImportBinary(ctx, encodeImage(t, 2, 2, imaging.GIF), "x", "", "", "")
		assert.Equal(t, errordefs.IMG_UNRECOGNIZED_FORMAT, errordefs.CodeOf(err))
	})

	t.Run("too large", func(t *testing.T) {
		im, _ := newDiskImporter(t, 0, 10)
		_, err := im.ImportBinary(ctx, encodeImage(t, 8, 8, imaging.PNG), "x", "", "", "")
		assert.Equal(t, errordefs.IMG_IMPORT, errordefs.CodeOf(err))
	})
}

func TestImportBinaryUsesMimeHint(t *testing.T) {
	im, _ := newDiskImporter(t, 0, 0)
	asset, err := im.ImportBinary(context.Background(), encodeImage(t, 2, 2, imaging.PNG), "giphy-logo.png", "", "", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "giphy-logo.png", asset.Name)
}

func TestS3StoreUpload(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		ctype  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		mu.Lock()
		method, path, ctype = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3Store(context.Background(), S3Options{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "media",
		AccessKey: "test",
		SecretKey: "test",
		PublicURL: "https://cdn.example.com/media/",
	})
	require.NoError(t, err)

	im := NewImporter(store, 0, nil)
	asset, err := im.ImportBinary(context.Background(), encodeImage(t, 4, 4, imaging.PNG), "Cat", "", "", "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/media/"+asset.Key, path)
	assert.Equal(t, "image/png", ctype)
	assert.Equal(t, "https://cdn.example.com/media/"+asset.Key, asset.URL)
}
