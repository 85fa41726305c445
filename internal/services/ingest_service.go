package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/store"
)

var (
	ErrNoFiles       = errors.New("no files in upload")
	ErrNothingStored = errors.New("no file of the batch could be stored")
	ErrBatchFinished = errors.New("batch already finished")
	ErrUnknownSource = errors.New("derived asset references an asset outside the batch")
	ErrInvalidRole   = errors.New("invalid asset role")
)

const defaultProcessTimeout = 10 * time.Minute

// UploadedFile is one received file part.
type UploadedFile struct {
	Filename    string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// DerivedFile is an artifact produced from an original asset.
type DerivedFile struct {
	SourceID    string
	Filename    string
	Role        manifest.Role
	ContentType string
	Content     []byte
}

// Processor derives artifacts from an original. Originals it has nothing to
// say about produce no output.
type Processor interface {
	Derive(ctx context.Context, original models.Asset, content []byte) ([]DerivedFile, error)
}

type IngestResult struct {
	Batch  *models.IngestBatch
	Assets []models.Asset
	Errors []string
}

// IngestService accepts batches and drives them to a terminal status.
type IngestService struct {
	store     store.Store
	blobs     store.BlobStore
	events    store.EventPublisher
	processor Processor
	logger    *slog.Logger

	processTimeout time.Duration
	wg             sync.WaitGroup
}

// NewIngestService creates the service. A nil processor means processing is
// done elsewhere and reported through CompleteBatch.
func NewIngestService(st store.Store, blobs store.BlobStore, events store.EventPublisher, processor Processor, logger *slog.Logger) *IngestService {
	return &IngestService{
		store:          st,
		blobs:          blobs,
		events:         events,
		processor:      processor,
		logger:         logger,
		processTimeout: defaultProcessTimeout,
	}
}

// Ingest stores the originals of a new batch and starts processing them.
func (s *IngestService) Ingest(ctx context.Context, ownerID, projectID uuid.UUID, files []UploadedFile) (*IngestResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	project, err := ownedProject(ctx, s.store, ownerID, projectID)
	if err != nil {
		return nil, err
	}

	batch := &models.IngestBatch{
		ID:        uuid.New(),
		ProjectID: project.ID,
		OwnerID:   ownerID,
		FileCount: len(files),
		Status:    models.BatchPending,
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	log := s.logger.With("batch_id", batch.ID, "project_id", project.ID)

	result := &IngestResult{Batch: batch}
	for _, f := range files {
		asset, err := s.storeOriginal(ctx, ownerID, batch, f)
		if err != nil {
			log.Warn("failed to store upload", "filename", f.Filename, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", f.Filename, err))
			continue
		}
		result.Assets = append(result.Assets, *asset)
	}

	if len(result.Assets) == 0 {
		s.fail(ctx, batch, "no file could be stored")
		return result, ErrNothingStored
	}
	if err := s.store.AddAssets(ctx, result.Assets); err != nil {
		s.deleteBlobs(ctx, result.Assets)
		s.fail(ctx, batch, "failed to record assets")
		return nil, fmt.Errorf("failed to record assets: %w", err)
	}
	s.publish(ctx, store.Event{
		Type:      store.EventBatchCreated,
		OwnerID:   ownerID,
		ProjectID: project.ID,
		BatchID:   batch.ID,
		Payload: map[string]interface{}{
			"batch_id":   batch.ID.String(),
			"status":     models.BatchProcessing,
			"file_count": len(result.Assets),
		},
	})

	if err := s.store.UpdateBatchStatus(ctx, batch.ID, models.BatchProcessing, ""); err != nil {
		return nil, fmt.Errorf("failed to update batch: %w", err)
	}
	batch.Status = models.BatchProcessing
	log.Info("batch accepted", "files", len(result.Assets), "rejected", len(result.Errors))

	if s.processor != nil {
		originals := append([]models.Asset(nil), result.Assets...)
		bg := context.WithoutCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.processBatch(bg, *batch, originals)
		}()
	}
	return result, nil
}

func (s *IngestService) storeOriginal(ctx context.Context, ownerID uuid.UUID, batch *models.IngestBatch, f UploadedFile) (*models.Asset, error) {
	name := filepath.Base(f.Filename)
	if name == "" || name == "." || name == "/" {
		return nil, errors.New("missing filename")
	}
	src, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	asset := &models.Asset{
		ID:          uuid.NewString(),
		ProjectID:   batch.ProjectID,
		BatchID:     uuid.NullUUID{UUID: batch.ID, Valid: true},
		Filename:    name,
		Size:        f.Size,
		Role:        manifest.RoleOriginal,
		ContentType: contentTypeFor(name, f.ContentType),
	}
	asset.StoragePath = store.BlobKey(ownerID, batch.ProjectID, asset.ID)

	h := sha256.New()
	if err := s.blobs.Put(ctx, asset.StoragePath, io.TeeReader(src, h), f.Size, asset.ContentType); err != nil {
		return nil, err
	}
	asset.SHA256 = hex.EncodeToString(h.Sum(nil))
	return asset, nil
}

func (s *IngestService) processBatch(ctx context.Context, batch models.IngestBatch, originals []models.Asset) {
	ctx, cancel := context.WithTimeout(ctx, s.processTimeout)
	defer cancel()

	var derived []DerivedFile
	for _, a := range originals {
		content, err := s.readBlob(ctx, a.StoragePath)
		if err != nil {
			s.finishBatch(ctx, &batch, nil, fmt.Sprintf("failed to read %s: %v", a.Filename, err))
			return
		}
		out, err := s.processor.Derive(ctx, a, content)
		if err != nil {
			s.finishBatch(ctx, &batch, nil, fmt.Sprintf("failed to process %s: %v", a.Filename, err))
			return
		}
		derived = append(derived, out...)
	}
	s.finishBatch(ctx, &batch, derived, "")
}

// CompleteBatch records the result of external processing for a batch.
func (s *IngestService) CompleteBatch(ctx context.Context, batchID uuid.UUID, status, errorMessage string, derived []DerivedFile) (*models.IngestBatch, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Terminal() {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrBatchFinished)
	}

	if status == models.BatchFailed {
		if errorMessage == "" {
			errorMessage = "processing failed"
		}
		s.finishBatch(ctx, batch, nil, errorMessage)
		return batch, nil
	}

	originals, err := s.store.ListBatchAssets(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch assets: %w", err)
	}
	known := make(map[string]bool, len(originals))
	for _, a := range originals {
		known[a.ID] = true
	}
	for _, d := range derived {
		if !known[d.SourceID] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, d.SourceID)
		}
		if !d.Role.Valid() || d.Role == manifest.RoleOriginal {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, d.Role)
		}
	}
	s.finishBatch(ctx, batch, derived, "")
	return batch, nil
}

// finishBatch stores derived artifacts and moves the batch to its terminal
// status. A non-empty failure marks the batch failed.
func (s *IngestService) finishBatch(ctx context.Context, batch *models.IngestBatch, derived []DerivedFile, failure string) {
	log := s.logger.With("batch_id", batch.ID, "project_id", batch.ProjectID)
	if failure != "" {
		s.fail(ctx, batch, failure)
		return
	}

	rows := make([]models.Asset, 0, len(derived))
	for _, d := range derived {
		a := models.Asset{
			ID:          uuid.NewString(),
			ProjectID:   batch.ProjectID,
			BatchID:     uuid.NullUUID{UUID: batch.ID, Valid: true},
			Filename:    d.Filename,
			Size:        int64(len(d.Content)),
			Role:        d.Role,
			ContentType: contentTypeFor(d.Filename, d.ContentType),
		}
		a.SourceID.String, a.SourceID.Valid = d.SourceID, true
		a.StoragePath = store.BlobKey(batch.OwnerID, batch.ProjectID, a.ID)
		sum := sha256.Sum256(d.Content)
		a.SHA256 = hex.EncodeToString(sum[:])

		if err := s.blobs.Put(ctx, a.StoragePath, bytes.NewReader(d.Content), a.Size, a.ContentType); err != nil {
			s.deleteBlobs(ctx, rows)
			s.fail(ctx, batch, fmt.Sprintf("failed to store %s: %v", d.Filename, err))
			return
		}
		rows = append(rows, a)
	}
	if len(rows) > 0 {
		if err := s.store.AddAssets(ctx, rows); err != nil {
			s.deleteBlobs(ctx, rows)
			s.fail(ctx, batch, "failed to record derived assets")
			return
		}
	}

	if err := s.store.UpdateBatchStatus(ctx, batch.ID, models.BatchCompleted, ""); err != nil {
		log.Error("failed to complete batch", "error", err)
		return
	}
	batch.Status = models.BatchCompleted
	log.Info("batch completed", "derived", len(rows))
	s.publish(ctx, store.Event{
		Type:      store.EventBatchCompleted,
		OwnerID:   batch.OwnerID,
		ProjectID: batch.ProjectID,
		BatchID:   batch.ID,
		Payload: map[string]interface{}{
			"batch_id":    batch.ID.String(),
			"status":      models.BatchCompleted,
			"asset_count": batch.FileCount + len(rows),
		},
	})
}

func (s *IngestService) fail(ctx context.Context, batch *models.IngestBatch, msg string) {
	if err := s.store.UpdateBatchStatus(ctx, batch.ID, models.BatchFailed, msg); err != nil {
		s.logger.Error("failed to mark batch failed", "batch_id", batch.ID, "error", err)
		return
	}
	batch.Status = models.BatchFailed
	batch.ErrorMessage.String, batch.ErrorMessage.Valid = msg, true
	s.logger.Warn("batch failed", "batch_id", batch.ID, "reason", msg)
	s.publish(ctx, store.Event{
		Type:      store.EventBatchFailed,
		OwnerID:   batch.OwnerID,
		ProjectID: batch.ProjectID,
		BatchID:   batch.ID,
		Payload: map[string]interface{}{
			"batch_id": batch.ID.String(),
			"status":   models.BatchFailed,
			"error":    msg,
		},
	})
}

// Status returns a batch and every asset it produced.
func (s *IngestService) Status(ctx context.Context, ownerID, batchID uuid.UUID) (*models.IngestBatch, []models.Asset, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	if batch.OwnerID != ownerID {
		return nil, nil, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	assets, err := s.store.ListBatchAssets(ctx, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list batch assets: %w", err)
	}
	return batch, assets, nil
}

// Wait blocks until background processing started so far has finished.
func (s *IngestService) Wait() {
	s.wg.Wait()
}

func (s *IngestService) readBlob(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *IngestService) deleteBlobs(ctx context.Context, assets []models.Asset) {
	if len(assets) == 0 {
		return
	}
	keys := make([]string, len(assets))
	for i, a := range assets {
		keys[i] = a.StoragePath
	}
	if err := s.blobs.Delete(ctx, keys...); err != nil {
		s.logger.Warn("failed to clean up blobs", "count", len(keys), "error", err)
	}
}

func (s *IngestService) publish(ctx context.Context, e store.Event) {
	if s.events == nil {
		return
	}
	e.At = time.Now().UTC()
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish event", "type", e.Type, "error", err)
	}
}

func ownedProject(ctx context.Context, st store.ProjectStore, ownerID, projectID uuid.UUID) (*models.Project, error) {
	project, err := st.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	return project, nil
}

// Not every host ships a mime.types file listing these.
var textExtensions = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".json": "application/json",
}

func contentTypeFor(filename, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if t, ok := textExtensions[ext]; ok {
		return t
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}
