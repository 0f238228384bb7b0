package imageapi

import (
	"context"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/storage"
)

const (
	// SettingGiphyLogo is the ConfigStore key holding the base64 logo.
	SettingGiphyLogo = "giphyLogo"
	// GiphyLogoFileName is the sentinel filename the logo is imported under.
	GiphyLogoFileName = "giphy-logo.png"
)

// GiphyLogoBase64 is the bundled "Powered by GIPHY" badge.
//
//go:embed giphy_logo.b64
var GiphyLogoBase64 string

// Bootstrap seeds the settings store with the bundled logo on a fresh install.
func Bootstrap(ctx context.Context, settings storage.ConfigStore) error {
	_, err := settings.GetSetting(ctx, SettingGiphyLogo)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read %s setting: %w", SettingGiphyLogo, err)
	}
	if err := settings.SetSetting(ctx, SettingGiphyLogo, strings.TrimSpace(GiphyLogoBase64)); err != nil {
		return fmt.Errorf("failed to seed %s setting: %w", SettingGiphyLogo, err)
	}
	return nil
}

// GiphyLogoURL returns the stored logo asset URL, importing the logo the
// first time any process of this install needs it. The ledger lookup makes it
// once per install and the cached URL once per process.
func (s *Service) GiphyLogoURL(ctx context.Context) (string, error) {
	s.logoMu.Lock()
	defer s.logoMu.Unlock()

	if s.logoURL != "" {
		return s.logoURL, nil
	}

	start := time.Now()
	rec, err := s.ledger.FindImportByType(ctx, model.TypeGiphyLogo)
	s.observeStorage("find_import_by_type", start, err)
	switch {
	case err == nil:
		s.logoURL = rec.Image.URL
		return s.logoURL, nil
	case !errors.Is(err, storage.ErrNotFound):
		return "", errordefs.Wrap(errordefs.IMG_INTERNAL, err, "failed to look up giphy logo")
	}

	data, err := s.logoBytes(ctx)
	if err != nil {
		return "", err
	}

	asset, err := s.importer.ImportBinary(ctx, data, GiphyLogoFileName, "Powered by GIPHY", "", "image/png")
	if err != nil {
		return "", err
	}

	if err := s.recordImport(ctx, &model.ImportedImageRecord{
		Type:         model.TypeGiphyLogo,
		Image:        model.AssetRef{ID: asset.ID, URL: asset.URL},
		OriginalName: GiphyLogoFileName,
	}); err != nil {
		return "", err
	}

	s.log.Info("giphy logo imported", "assetId", asset.ID, "url", asset.URL)
	s.logoURL = asset.URL
	return s.logoURL, nil
}

// logoBytes decodes the configured logo, falling back to the bundled one.
func (s *Service) logoBytes(ctx context.Context) ([]byte, error) {
	encoded := GiphyLogoBase64
	if s.settings != nil {
		v, err := s.settings.GetSetting(ctx, SettingGiphyLogo)
		switch {
		case err == nil && strings.TrimSpace(v) != "":
			encoded = v
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return nil, errordefs.Wrap(errordefs.IMG_INTERNAL, err, "failed to read giphy logo setting")
		}
	}
	return decodeLogo(encoded)
}

// decodeLogo accepts raw base64 or a data: URL.
func decodeLogo(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errordefs.Wrap(errordefs.IMG_CONFIGURATION, err, "giphy logo is not valid base64").WithProvider(model.ProviderGiphy)
	}
	return data, nil
}
