// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the image-api service.
// It exposes the search and import endpoints used by the admin UI together with
// the ledger listing, the local uploads directory and the ops endpoints.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/auth"
	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/imageapi"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/media"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/schema"
)

const (
	// HeaderCorrelationID carries the request correlation id in both directions.
	HeaderCorrelationID = "X-Correlation-Id"

	// Maximum accepted request body; descriptors are small.
	maxBodySize = 1 << 20
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the mux to its dependencies.
type Options struct {
	Service   *imageapi.Service
	Validator *schema.Validator
	Verifier  *auth.Verifier   // nil disables the admin check
	Metrics   *metrics.Metrics // Defaults to metrics.NewMetrics()

	// UploadDir is served under /uploads/ when set (disk asset store).
	UploadDir string

	// ReadyChecks are pinged by /readyz, keyed by dependency name.
	ReadyChecks map[string]Pinger

	// Allowed origins for CORS (empty means deny all)
	CORSAllowedOrigins []string
}

// Mux handles HTTP requests for the image-api service.
type Mux struct {
	mux       *http.ServeMux
	svc       *imageapi.Service
	validator *schema.Validator
	verifier  *auth.Verifier
	metrics   *metrics.Metrics
	checks    map[string]Pinger

	corsAllowedOrigins []string
}

// NewMux creates a new HTTP mux with all image-api endpoints registered.
func NewMux(opts Options) *http.ServeMux {
	m := &Mux{
		mux:                http.NewServeMux(),
		svc:                opts.Service,
		validator:          opts.Validator,
		verifier:           opts.Verifier,
		metrics:            opts.Metrics,
		checks:             opts.ReadyChecks,
		corsAllowedOrigins: opts.CORSAllowedOrigins,
	}
	if m.metrics == nil {
		m.metrics = metrics.NewMetrics()
	}

	// Ops endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Admin endpoints
	for _, p := range []string{model.ProviderUnsplash, model.ProviderGiphy} {
		search := "/image-api/search-" + p + "-images"
		imp := "/image-api/import-" + p + "-image"
		m.mux.HandleFunc(search, m.withMiddleware(search, true, m.method("POST", m.handleSearch(p))))
		m.mux.HandleFunc(imp, m.withMiddleware(imp, true, m.method("POST", m.handleImport(p))))
	}
	m.mux.HandleFunc("/image-api/imported-images",
		m.withMiddleware("/image-api/imported-images", true, m.method("GET", m.handleListImports)))

	// Assets written by the disk store are public
	if opts.UploadDir != "" {
		files := http.StripPrefix(media.UploadsPath, http.FileServer(http.Dir(opts.UploadDir)))
		m.mux.HandleFunc(media.UploadsPath, m.withMiddleware(media.UploadsPath, false, m.method("GET", noDirListing(files))))
	}

	return m.mux
}

// method ensures the HTTP method matches the expected method
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			m.writeErr(w, r, errordefs.New(errordefs.IMG_BAD_REQUEST, "method not allowed", ""))
			return
		}
		h(w, r)
	}
}

// withMiddleware applies CORS, correlation ids, the admin check, request
// logging and HTTP metrics. route is the metrics label.
func (m *Mux) withMiddleware(route string, admin bool, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		origin := r.Header.Get("Origin")
		allowed := m.originAllowed(origin)
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		// Handle CORS preflight requests
		if r.Method == http.MethodOptions {
			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+HeaderCorrelationID)
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		correlationID := r.Header.Get(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(imageapi.WithCorrelationID(r.Context(), correlationID))
		w.Header().Set(HeaderCorrelationID, correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if admin && m.verifier != nil {
			if _, err := m.verifier.VerifyRequest(r); err != nil {
				m.writeErr(rec, r, err)
				m.finish(rec, r, route, start)
				return
			}
		}

		h(rec, r)
		m.finish(rec, r, route, start)
	}
}

func (m *Mux) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range m.corsAllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (m *Mux) finish(rec *statusRecorder, r *http.Request, route string, start time.Time) {
	duration := time.Since(start)
	status := strconv.Itoa(rec.status)
	m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, route, status).Inc()
	m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(duration.Seconds())
	m.logRequest(r, rec.status, duration, imageapi.CorrelationID(r.Context()), rec.err)
}

// statusRecorder remembers the status and error of a response for logging.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	err         error
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// handleSearch handles POST /image-api/search-<provider>-images
func (m *Mux) handleSearch(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("imageapi-server").Start(r.Context(), "handleSearch")
		defer span.End()
		span.SetAttributes(attribute.String("provider", providerName))

		var req model.SearchRequest
		if err := m.decode(r, schema.SearchRequest, &req); err != nil {
			span.SetStatus(codes.Error, "invalid request")
			m.writeErr(w, r, err)
			return
		}

		page, err := m.svc.Search(ctx, providerName, req)
		if err != nil {
			span.SetStatus(codes.Error, string(errordefs.CodeOf(err)))
			m.writeErr(w, r, err)
			return
		}
		m.writeJSON(w, r, http.StatusOK, page)
	}
}

// handleImport handles POST /image-api/import-<provider>-image
func (m *Mux) handleImport(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("imageapi-server").Start(r.Context(), "handleImport")
		defer span.End()
		span.SetAttributes(attribute.String("provider", providerName))

		var req model.ImportRequest
		if err := m.decode(r, schema.ImportRequest, &req); err != nil {
			span.SetStatus(codes.Error, "invalid request")
			m.writeErr(w, r, err)
			return
		}

		resp, err := m.svc.Import(ctx, providerName, req)
		if err != nil {
			span.SetStatus(codes.Error, string(errordefs.CodeOf(err)))
			m.writeErr(w, r, err)
			return
		}
		m.writeJSON(w, r, http.StatusOK, resp)
	}
}

// handleListImports handles GET /image-api/imported-images?limit=N
func (m *Mux) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			m.writeErr(w, r, errordefs.New(errordefs.IMG_BAD_REQUEST, "limit must be a non-negative integer", ""))
			return
		}
		limit = n
	}

	resp, err := m.svc.ListImports(r.Context(), limit)
	if err != nil {
		m.writeErr(w, r, err)
		return
	}
	m.writeJSON(w, r, http.StatusOK, resp)
}

// decode reads the body, validates it against the named schema and unmarshals it into v.
func (m *Mux) decode(r *http.Request, schemaName string, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return errordefs.Wrap(errordefs.IMG_BAD_REQUEST, err, "failed to read request body")
	}
	if len(body) > maxBodySize {
		return errordefs.New(errordefs.IMG_BAD_REQUEST, "request body too large", "")
	}

	if m.validator != nil {
		err := m.validator.Validate(schemaName, body)
		m.metrics.SchemaValidationTotal.WithLabelValues(schemaName, metrics.Status(err)).Inc()
		if err != nil {
			return err
		}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return errordefs.Wrap(errordefs.IMG_BAD_REQUEST, err, "invalid JSON")
	}
	return nil
}

// writeJSON writes v as the bare response body, brotli-compressed when the client accepts it.
func (m *Mux) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	body := brotli.HTTPCompressor(w, r)
	defer body.Close()
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(body).Encode(v)
}

// writeErr writes err using the error envelope. Errors outside the taxonomy
// are reported as IMG_INTERNAL without their message.
func (m *Mux) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := errordefs.As(err)
	if !ok {
		e = errordefs.Wrap(errordefs.IMG_INTERNAL, err, "internal server error")
	}
	e.CorrelationID = imageapi.CorrelationID(r.Context())
	if rec, ok := w.(*statusRecorder); ok {
		rec.err = err
	}
	m.writeJSON(w, r, e.HTTPStatus, map[string]any{"error": e})
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}

	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		if e, ok := errordefs.As(err); ok && e.Provider != "" {
			attrs = append(attrs, slog.String("provider", e.Provider))
		}
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.LogAttrs(r.Context(), level, "request completed with error", attrs...)
	} else {
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz pings every configured dependency.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, check := range m.checks {
		if err := check.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", "dependency", name, "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// noDirListing answers 404 for directory paths instead of an index page.
func noDirListing(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	}
}
