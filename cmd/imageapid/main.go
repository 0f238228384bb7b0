// cmd/imageapid/main.go
// Package main implements the entry point for the image-api service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/auth"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/config"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/event"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/imageapi"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/media"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/provider"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/server"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/telemetry"
)

var version = "dev"

// main is the entry point for the image-api service.
// It initializes all components, starts the HTTP server, and handles graceful shutdown.
func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry; spans are only printed in dev
	traceOpts := telemetry.Options{ServiceName: "imageapi", ServiceVersion: version}
	if cfg.Env == "dev" {
		traceOpts.Writer = os.Stderr
	}
	if _, err := telemetry.InitTracer(traceOpts); err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	ctx := context.Background()

	// Ledger and settings backend (PostgreSQL, SQLite or in-memory)
	var store storage.Store
	switch {
	case cfg.DatabaseDSN != "":
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
	case cfg.SQLitePath != "":
		store, err = storage.NewSQLite(cfg.SQLitePath)
	default:
		logger.Warn("no database configured, imports are kept in memory")
		store = storage.NewMemory()
	}
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	readyChecks := map[string]server.Pinger{"store": store}

	// Asset store (S3 or local uploads directory)
	var assets media.AssetStore
	uploadDir := ""
	if cfg.S3Bucket != "" {
		s3Store, err := media.NewS3Store(ctx, media.S3Options{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			PublicURL:    cfg.S3PublicURL,
			MaxDimension: cfg.MaxImageDimension,
		})
		if err != nil {
			logger.Error("failed to initialize S3 asset store", "error", err)
			os.Exit(1)
		}
		assets = s3Store
		readyChecks["assets"] = s3Store
	} else {
		disk, err := media.NewDiskStore(cfg.UploadDir, cfg.MaxImageDimension)
		if err != nil {
			logger.Error("failed to initialize upload directory", "error", err)
			os.Exit(1)
		}
		assets = disk
		uploadDir = disk.Root()
	}

	// Seed the plugin settings on a fresh install
	if err := imageapi.Bootstrap(ctx, store); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	adapterOpts := provider.Options{Timeout: cfg.HTTPTimeout, MaxDownloadSize: cfg.MaxMediaSize}
	m := metrics.NewMetrics()

	svc := imageapi.New(imageapi.Options{
		Adapters: []provider.Adapter{
			provider.NewUnsplash(adapterOpts),
			provider.NewGiphy(adapterOpts),
		},
		Credentials:  cfg,
		Importer:     media.NewImporter(assets, cfg.MaxMediaSize, cfg.AllowedMimeTypes),
		Ledger:       store,
		Settings:     store,
		BaseURL:      imageapi.StaticBaseURL(cfg.PublicURL),
		Events:       pub,
		Metrics:      m,
		IsHTMLEditor: cfg.IsHTMLEditor,
		Logger:       logger,
	})

	validator, err := schema.NewValidator()
	if err != nil {
		logger.Error("failed to initialize schema validator", "error", err)
		os.Exit(1)
	}

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.JWTSecret)
	} else {
		logger.Warn("IMAGEAPI_JWT_SECRET not set, admin routes are unauthenticated")
	}

	// Create HTTP mux with all handlers and middleware
	mux := server.NewMux(server.Options{
		Service:            svc,
		Validator:          validator,
		Verifier:           verifier,
		Metrics:            m,
		UploadDir:          uploadDir,
		ReadyChecks:        readyChecks,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// Write timeout covers two provider calls plus the asset upload
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2*cfg.HTTPTimeout + 30*time.Second,
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server exited")
}
