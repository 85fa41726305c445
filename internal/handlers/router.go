package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"studio-ingest/internal/logging"
	"studio-ingest/internal/middleware"
	"studio-ingest/internal/services"
	"studio-ingest/internal/store"
)

// RouterConfig holds everything the HTTP surface is built from.
type RouterConfig struct {
	Store          store.Store
	Ingest         *services.IngestService
	Snapshots      *services.SnapshotService
	Health         Pinger
	JWTSecret      string
	WebhookToken   string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// NewRouter wires the handlers under /api/v1. The webhook route is only
// registered when a webhook token is configured.
func NewRouter(rc RouterConfig) *gin.Engine {
	logger := rc.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	router := gin.New()
	router.Use(logging.GinLogger(logger))
	router.Use(gin.Recovery())

	router.GET("/health", HealthHandler(rc.Health))

	projectsHandler := NewProjectsHandler(rc.Store)
	ingestHandler := NewIngestHandler(rc.Ingest, rc.MaxUploadBytes)
	snapshotHandler := NewSnapshotHandler(rc.Snapshots, rc.MaxUploadBytes, logger)

	api := router.Group("/api/v1")
	api.GET("/health", HealthHandler(rc.Health))

	if rc.WebhookToken != "" {
		webhookHandler := NewWebhookHandler(rc.Ingest)
		api.POST("/webhooks/processing", middleware.WebhookAuth(rc.WebhookToken), webhookHandler.HandleProcessing)
	}

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(rc.JWTSecret))

	authed.POST("/projects", projectsHandler.CreateProject)
	authed.GET("/projects", projectsHandler.ListProjects)
	authed.GET("/projects/:project_id", projectsHandler.GetProject)

	authed.POST("/ingest/upload", ingestHandler.Upload)
	authed.GET("/ingest/status/:batch_id", ingestHandler.Status)

	authed.POST("/project/export", snapshotHandler.Export)
	authed.POST("/project/resume", snapshotHandler.Resume)

	return router
}
