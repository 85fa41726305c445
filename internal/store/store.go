// Package store defines the persistence ports of the backend and in-memory
// implementations used in development mode and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"studio-ingest/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type ProjectStore interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, ownerID uuid.UUID) ([]models.Project, error)
	// UpsertProject creates p or overwrites its title when it already exists
	// for the same owner. Another owner's project yields ErrConflict.
	UpsertProject(ctx context.Context, p *models.Project) error
}

type AssetStore interface {
	AddAssets(ctx context.Context, assets []models.Asset) error
	ListAssets(ctx context.Context, projectID uuid.UUID) ([]models.Asset, error)
	ListBatchAssets(ctx context.Context, batchID uuid.UUID) ([]models.Asset, error)
	// ReplaceAssets atomically swaps the whole asset set of a project.
	ReplaceAssets(ctx context.Context, projectID uuid.UUID, assets []models.Asset) error
}

type BatchStore interface {
	CreateBatch(ctx context.Context, b *models.IngestBatch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*models.IngestBatch, error)
	UpdateBatchStatus(ctx context.Context, id uuid.UUID, status, errorMessage string) error
}

// Store is everything the services persist in the relational database.
type Store interface {
	ProjectStore
	AssetStore
	BatchStore
}

// BlobStore holds asset bytes under opaque keys.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, keys ...string) error
}

const (
	EventBatchCreated   = "batch.created"
	EventBatchCompleted = "batch.completed"
	EventBatchFailed    = "batch.failed"
	EventProjectResumed = "project.resumed"
)

type Event struct {
	Type      string
	OwnerID   uuid.UUID
	ProjectID uuid.UUID
	BatchID   uuid.UUID
	Payload   map[string]interface{}
	At        time.Time
}

// EventPublisher broadcasts state changes to interested clients.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// BlobKey returns the storage path of an asset.
func BlobKey(ownerID, projectID uuid.UUID, assetID string) string {
	return fmt.Sprintf("users/%s/projects/%s/%s", ownerID.String(), projectID.String(), assetID)
}

// GenerationKey returns the storage path of an asset written by one restore
// of a project. Each generation gets its own folder, so restoring never
// overwrites blobs that current asset rows point at.
func GenerationKey(ownerID, projectID, generation uuid.UUID, assetID string) string {
	return fmt.Sprintf("users/%s/projects/%s/%s/%s", ownerID.String(), projectID.String(), generation.String(), assetID)
}
