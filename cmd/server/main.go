// @title           Studio Ingest API
// @version         1.0.0
// @description     Backend for bulk asset ingestion and project export/resume. Uploaded batches are stored, processed into derived artifacts and reported through a status endpoint; projects round-trip through zip archives.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"studio-ingest/docs"
	"studio-ingest/internal/config"
	"studio-ingest/internal/database"
	"studio-ingest/internal/handlers"
	"studio-ingest/internal/logging"
	"studio-ingest/internal/s3store"
	"studio-ingest/internal/services"
	"studio-ingest/internal/store"
	"studio-ingest/internal/supabase"
)

func main() {
	bootLogger := logging.New("info", "text", os.Stderr)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Point Swagger at the public base URL
	if baseURL, err := url.Parse(cfg.BaseURL); err == nil && baseURL.Host != "" {
		docs.SwaggerInfo.Host = baseURL.Host
		if baseURL.Scheme == "https" {
			docs.SwaggerInfo.Schemes = []string{"https", "http"}
		} else {
			docs.SwaggerInfo.Schemes = []string{"http", "https"}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relational store
	var (
		st     store.Store = store.NewMemoryStore()
		health handlers.Pinger
	)
	if cfg.DatabaseURL != "" {
		dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to initialize database client", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		st, health = dbClient, dbClient

		if cfg.RunMigrations {
			if err := runMigrations(ctx, cfg.DatabaseURL, logger); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
		}
	} else {
		logger.Warn("DATABASE_URL not set, projects are kept in memory")
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize blob store", "backend", cfg.BlobBackend, "error", err)
		os.Exit(1)
	}

	var events store.EventPublisher = store.LogPublisher{Logger: logger}
	if cfg.RealtimeEvents {
		supabaseClient, err := supabase.NewClient(cfg)
		if err != nil {
			logger.Error("failed to initialize Supabase client", "error", err)
			os.Exit(1)
		}
		events = supabaseClient.Realtime()
	}

	var processor services.Processor
	if cfg.ProcessingMode == config.ProcessingInline {
		processor = services.TextProcessor{}
	}
	ingestService := services.NewIngestService(st, blobs, events, processor, logger)
	snapshotService := services.NewSnapshotService(st, blobs, events, logger)

	webhookToken := ""
	if cfg.ProcessingMode == config.ProcessingExternal {
		webhookToken = cfg.ProcessingWebhookSecret
	}
	router := handlers.NewRouter(handlers.RouterConfig{
		Store:          st,
		Ingest:         ingestService,
		Snapshots:      snapshotService,
		Health:         health,
		JWTSecret:      cfg.SupabaseJWTSecret,
		WebhookToken:   webhookToken,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "blob_backend", cfg.BlobBackend, "processing", cfg.ProcessingMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	ingestService.Wait()
}

func runMigrations(ctx context.Context, dbURL string, logger *slog.Logger) error {
	migrator, err := database.NewMigrator(ctx, dbURL, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()
	if err := migrator.Run(ctx); err != nil {
		return err
	}
	logger.Info("migrations completed successfully")
	return nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (store.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendSupabase:
		return supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	case config.BlobBackendS3:
		return s3store.New(ctx, s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return store.NewMemoryBlobs(), nil
	}
}
