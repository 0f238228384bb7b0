// Package imageapi orchestrates provider searches and imports. A search is
// one provider call plus normalization. An import validates the descriptor,
// downloads the binary, stores it through the asset importer, records it in
// the provenance ledger and renders the attribution block returned to the
// editor. Every stage is terminal on its first error.
package imageapi

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/attribution"
	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/event"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/provider"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/storage"
)

// CredentialsProvider resolves the configured credentials of a provider.
type CredentialsProvider interface {
	Credentials(provider string) (model.ProviderCredentials, bool)
}

// BaseURLResolver returns the externally reachable base URL of the host.
type BaseURLResolver interface {
	AbsoluteBaseURL() string
}

// StaticBaseURL is a BaseURLResolver with a fixed value.
type StaticBaseURL string

func (s StaticBaseURL) AbsoluteBaseURL() string { return string(s) }

// AssetImporter stores a downloaded binary as a media asset.
type AssetImporter interface {
	ImportBinary(ctx context.Context, data []byte, fileName, altText, caption, mimeHint string) (*model.StoredAsset, error)
}

// Options wires a Service to its collaborators.
type Options struct {
	Adapters     []provider.Adapter
	Credentials  CredentialsProvider
	Importer     AssetImporter
	Ledger       storage.Ledger
	Settings     storage.ConfigStore
	BaseURL      BaseURLResolver
	Events       event.Publisher  // Optional, defaults to no-op
	Metrics      *metrics.Metrics // Optional
	IsHTMLEditor bool
	Logger       *slog.Logger // Optional, defaults to slog.Default()
}

// Service is the import orchestrator.
type Service struct {
	adapters     map[string]provider.Adapter
	creds        CredentialsProvider
	importer     AssetImporter
	ledger       storage.Ledger
	settings     storage.ConfigStore
	baseURL      BaseURLResolver
	events       event.Publisher
	metrics      *metrics.Metrics
	isHTMLEditor bool
	log          *slog.Logger
	tracer       trace.Tracer

	logoMu  sync.Mutex
	logoURL string // Cached Giphy logo asset URL, set at most once
}

// New creates a Service.
func New(opts Options) *Service {
	adapters := make(map[string]provider.Adapter, len(opts.Adapters))
	for _, a := range opts.Adapters {
		adapters[a.Name()] = a
	}
	events := opts.Events
	if events == nil {
		events = event.NewNoop()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := opts.BaseURL
	if baseURL == nil {
		baseURL = StaticBaseURL("")
	}
	return &Service{
		adapters:     adapters,
		creds:        opts.Credentials,
		importer:     opts.Importer,
		ledger:       opts.Ledger,
		settings:     opts.Settings,
		baseURL:      baseURL,
		events:       events,
		metrics:      opts.Metrics,
		isHTMLEditor: opts.IsHTMLEditor,
		log:          logger,
		tracer:       otel.Tracer("imageapi"),
	}
}

// resolve finds the adapter and credentials of a provider. It never touches the network.
func (s *Service) resolve(providerName string) (provider.Adapter, model.ProviderCredentials, error) {
	adapter, ok := s.adapters[providerName]
	if !ok {
		return nil, model.ProviderCredentials{}, errordefs.New(errordefs.IMG_NOT_FOUND, "unknown provider "+providerName, "")
	}
	var creds model.ProviderCredentials
	if s.creds != nil {
		creds, ok = s.creds.Credentials(providerName)
	}
	if !ok || s.creds == nil || strings.TrimSpace(creds.AccessKey) == "" {
		return nil, model.ProviderCredentials{}, errordefs.Configuration(providerName, "accessKey")
	}
	return adapter, creds, nil
}

// Search runs one provider search and returns the normalized page. Each
// item carries a suggested import filename.
func (s *Service) Search(ctx context.Context, providerName string, req model.SearchRequest) (*model.SearchResultPage, error) {
	ctx, span := s.tracer.Start(ctx, "imageapi.Search", trace.WithAttributes(
		attribute.String("provider", providerName),
		attribute.Int("page_number", req.PageNumber),
	))
	defer span.End()

	adapter, creds, err := s.resolve(providerName)
	if err != nil {
		return nil, s.fail(span, err)
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, s.fail(span, errordefs.Validation("query must not be empty"))
	}

	start := time.Now()
	page, err := adapter.Search(ctx, creds, query, req.PageNumber, req.PageCount)
	s.observeProvider(providerName, "search", start, err)
	if err != nil {
		return nil, s.fail(span, err)
	}

	for i := range page.Items {
		page.Items[i].FileName = DeriveFileName(page.Items[i].OriginalName)
	}
	span.SetAttributes(attribute.Int("results", len(page.Items)))
	return page, nil
}

// Import stores the selected image and returns the markup to insert.
// Importing the same image twice creates two assets and two ledger entries.
func (s *Service) Import(ctx context.Context, providerName string, req model.ImportRequest) (*model.ImportResponse, error) {
	ctx, span := s.tracer.Start(ctx, "imageapi.Import", trace.WithAttributes(
		attribute.String("provider", providerName),
		attribute.String("original_id", req.TargetImage.ID),
	))
	defer span.End()

	resp, err := s.doImport(ctx, providerName, req.TargetImage)
	if s.metrics != nil {
		s.metrics.ImportTotal.WithLabelValues(providerName, metrics.Status(err)).Inc()
	}
	if err != nil {
		return nil, s.fail(span, err)
	}
	return resp, nil
}

func (s *Service) doImport(ctx context.Context, providerName string, target model.TargetImageDescriptor) (*model.ImportResponse, error) {
	adapter, creds, err := s.resolve(providerName)
	if err != nil {
		return nil, err
	}
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	// The logo must resolve before anything is downloaded or recorded.
	var logoURL string
	if adapter.RequiresLogo() {
		logo, err := s.GiphyLogoURL(ctx)
		if err != nil {
			return nil, err
		}
		logoURL = attribution.AbsoluteURL(s.baseURL.AbsoluteBaseURL(), logo)
	}

	start := time.Now()
	data, err := adapter.Download(ctx, creds, target)
	s.observeProvider(providerName, "download", start, err)
	if err != nil {
		return nil, err
	}

	asset, err := s.importer.ImportBinary(ctx, data, strings.TrimSpace(target.FileName), target.AltText, target.Caption, "")
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ImportBytes.WithLabelValues(providerName).Observe(float64(asset.Size))
	}

	rec := &model.ImportedImageRecord{
		Type:         providerName,
		Image:        model.AssetRef{ID: asset.ID, URL: asset.URL},
		OriginalID:   target.ID,
		OriginalName: target.OriginalName,
		OriginalURL:  target.URLs.Default,
		AuthorName:   target.AuthorName,
		AuthorURL:    target.AuthorURL,
		WebURL:       firstNonEmpty(target.WebURL, target.URLs.WebURL),
	}
	if err := s.recordImport(ctx, rec); err != nil {
		return nil, err
	}

	in := attribution.Input{
		ImageURL:     attribution.AbsoluteURL(s.baseURL.AbsoluteBaseURL(), asset.URL),
		Provider:     providerName,
		AltText:      target.AltText,
		AuthorName:   target.AuthorName,
		AuthorURL:    target.AuthorURL,
		WebURL:       rec.WebURL,
		AppName:      creds.AppName,
		LogoURL:      logoURL,
		IsHTMLEditor: s.isHTMLEditor,
	}

	content, err := attribution.Render(in)
	if err != nil {
		return nil, err
	}

	s.publishImported(ctx, rec, asset)

	s.log.Info("image imported",
		"provider", adapter.DisplayName(),
		"originalId", target.ID,
		"assetId", asset.ID,
		"recordId", rec.ID,
		"correlationId", CorrelationID(ctx))

	return &model.ImportResponse{ImageContent: content}, nil
}

// ListImports returns the most recent ledger entries.
func (s *Service) ListImports(ctx context.Context, limit int) (*model.ImportedImagesResponse, error) {
	start := time.Now()
	items, err := s.ledger.ListImports(ctx, limit)
	s.observeStorage("list_imports", start, err)
	if err != nil {
		return nil, errordefs.Wrap(errordefs.IMG_INTERNAL, err, "failed to list imported images")
	}
	return &model.ImportedImagesResponse{Items: items}, nil
}

func validateTarget(t model.TargetImageDescriptor) error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return errordefs.Validation("targetImage.id must not be empty")
	case strings.TrimSpace(t.FileName) == "":
		return errordefs.Validation("targetImage.fileName must not be empty")
	case strings.TrimSpace(t.URLs.Default) == "":
		return errordefs.Validation("targetImage.urls.default must not be empty")
	}
	return nil
}

func (s *Service) recordImport(ctx context.Context, rec *model.ImportedImageRecord) error {
	start := time.Now()
	err := s.ledger.RecordImport(ctx, rec)
	s.observeStorage("record_import", start, err)
	if err != nil {
		return errordefs.Wrap(errordefs.IMG_IMPORT, err, "failed to record imported image")
	}
	return nil
}

// publishImported emits the import event. Failures are logged, never returned.
func (s *Service) publishImported(ctx context.Context, rec *model.ImportedImageRecord, asset *model.StoredAsset) {
	start := time.Now()
	err := s.events.PublishImageImported(ctx, event.ImageImported{
		RecordID:      rec.ID,
		Provider:      rec.Type,
		OriginalID:    rec.OriginalID,
		AssetID:       asset.ID,
		AssetURL:      asset.URL,
		MimeType:      asset.MimeType,
		Size:          asset.Size,
		CorrelationID: CorrelationID(ctx),
	})
	if s.metrics != nil {
		s.metrics.ObserveEvent(event.SubjectImageImported, start, err)
	}
	if err != nil {
		s.log.Warn("failed to publish import event", "recordId", rec.ID, "error", err)
	}
}

func (s *Service) observeProvider(providerName, operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveProviderCall(providerName, operation, start, err)
	}
}

func (s *Service) observeStorage(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveStorage(operation, start, err)
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(errordefs.CodeOf(err)))
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type correlationKey struct{}

// WithCorrelationID attaches a request correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id attached to ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
