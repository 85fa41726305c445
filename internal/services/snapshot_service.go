package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"studio-ingest/internal/archive"
	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/store"
)

// ErrEmptyProject is returned when exporting a project without assets.
var ErrEmptyProject = errors.New("project has no assets")

const restoreConcurrency = 4

// SnapshotService exports projects as archive bundles and restores them.
type SnapshotService struct {
	store  store.Store
	blobs  store.BlobStore
	events store.EventPublisher
	logger *slog.Logger
}

func NewSnapshotService(st store.Store, blobs store.BlobStore, events store.EventPublisher, logger *slog.Logger) *SnapshotService {
	return &SnapshotService{
		store:  st,
		blobs:  blobs,
		events: events,
		logger: logger,
	}
}

// Export is a prepared export whose bytes have not been written yet.
type Export struct {
	Filename string
	Manifest *manifest.Manifest
	svc      *SnapshotService
}

// PrepareExport resolves the project and its manifest. Nothing is written, so
// callers can still answer with an error status.
func (s *SnapshotService) PrepareExport(ctx context.Context, ownerID, projectID uuid.UUID) (*Export, error) {
	project, err := ownedProject(ctx, s.store, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	assets, err := s.store.ListAssets(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrEmptyProject)
	}
	return &Export{
		Filename: ArchiveFilename(project),
		Manifest: models.BuildManifest(project, assets),
		svc:      s,
	}, nil
}

// WriteTo streams the archive into w.
func (e *Export) WriteTo(ctx context.Context, w io.Writer) error {
	err := archive.Write(ctx, w, e.Manifest, func(ctx context.Context, a manifest.Asset) (io.ReadCloser, error) {
		return e.svc.blobs.Get(ctx, a.Location)
	})
	if err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	e.svc.logger.Info("project exported", "project_id", e.Manifest.ProjectID, "assets", len(e.Manifest.Assets))
	return nil
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ArchiveFilename names the archive after the project title.
func ArchiveFilename(p *models.Project) string {
	slug := strings.Trim(unsafeFilename.ReplaceAllString(strings.ToLower(p.Title), "-"), "-.")
	if slug == "" {
		return p.ID.String() + ".zip"
	}
	if len(slug) > 48 {
		slug = strings.TrimRight(slug[:48], "-.")
	}
	return fmt.Sprintf("%s-%s.zip", slug, p.ID.String()[:8])
}

// Resume restores the project described by an archive under its original id.
// Unreadable archives fail with *archive.Error; a project of another owner
// yields store.ErrConflict.
func (s *SnapshotService) Resume(ctx context.Context, ownerID uuid.UUID, data []byte) (*models.Project, *manifest.Manifest, error) {
	bundle, err := archive.ReadBytes(data)
	if err != nil {
		return nil, nil, err
	}
	m := bundle.Manifest
	projectID, err := uuid.Parse(m.ProjectID)
	if err != nil {
		return nil, nil, &archive.Error{
			Kind: archive.ManifestParseFailed,
			Err:  &manifest.ParseError{Kind: manifest.Invalid, Err: fmt.Errorf("project_id %q: %w", m.ProjectID, err)},
		}
	}
	log := s.logger.With("project_id", projectID)

	project := &models.Project{ID: projectID, OwnerID: ownerID, Title: m.Title, CreatedAt: m.CreatedAt}
	if err := s.store.UpsertProject(ctx, project); err != nil {
		return nil, nil, err
	}
	previous, err := s.store.ListAssets(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list assets: %w", err)
	}

	generation := uuid.New()
	rows := make([]models.Asset, len(m.Assets))
	var (
		mu      sync.Mutex
		written []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)
	for i, a := range m.Assets {
		row := models.Asset{
			ID:          a.ID,
			ProjectID:   projectID,
			Filename:    a.Filename,
			Size:        a.Size,
			Role:        a.Role,
			ContentType: a.ContentType,
			SHA256:      a.SHA256,
			StoragePath: store.GenerationKey(ownerID, projectID, generation, a.ID),
		}
		if a.SourceID != "" {
			row.SourceID.String, row.SourceID.Valid = a.SourceID, true
		}
		rows[i] = row

		g.Go(func() error {
			rc, err := bundle.Open(row.ID)
			if err != nil {
				return err
			}
			defer rc.Close()
			// Record before writing: a failed Put may still leave a partial object.
			mu.Lock()
			written = append(written, row.StoragePath)
			mu.Unlock()
			if err := s.blobs.Put(gctx, row.StoragePath, rc, row.Size, row.ContentType); err != nil {
				return fmt.Errorf("failed to restore %s: %w", row.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(ctx, written)
		return nil, nil, err
	}

	if err := s.store.ReplaceAssets(ctx, projectID, rows); err != nil {
		s.discard(ctx, written)
		return nil, nil, fmt.Errorf("failed to replace assets: %w", err)
	}

	stored, err := s.store.ListAssets(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to re-read assets: %w", err)
	}
	restored := models.BuildManifest(project, stored)
	if !manifest.SetEqual(m, restored) {
		missing, extra := manifest.Diff(m, restored)
		log.Error("restored asset set differs from archive", "missing", missing, "extra", extra)
		if err := s.store.ReplaceAssets(ctx, projectID, previous); err != nil {
			log.Error("failed to roll back asset rows", "error", err)
		} else {
			s.discard(ctx, written)
		}
		return nil, nil, &archive.Error{Kind: archive.AssetMismatch, Missing: missing, Extra: extra}
	}
	s.dropStale(ctx, previous, rows)

	log.Info("project resumed", "assets", len(stored))
	if s.events != nil {
		count, total := restored.Stats()
		err := s.events.Publish(ctx, store.Event{
			Type:      store.EventProjectResumed,
			OwnerID:   ownerID,
			ProjectID: projectID,
			Payload: map[string]interface{}{
				"status":      "resumed",
				"asset_count": count,
				"total_size":  total,
			},
			At: time.Now().UTC(),
		})
		if err != nil {
			log.Warn("failed to publish event", "error", err)
		}
	}
	return project, restored, nil
}

// discard removes blobs of a restore that did not go through.
func (s *SnapshotService) discard(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		s.logger.Warn("failed to delete restored blobs", "count", len(keys), "error", err)
	}
}

func (s *SnapshotService) dropStale(ctx context.Context, previous, current []models.Asset) {
	keep := make(map[string]bool, len(current))
	for _, a := range current {
		keep[a.StoragePath] = true
	}
	var stale []string
	for _, a := range previous {
		if !keep[a.StoragePath] {
			stale = append(stale, a.StoragePath)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := s.blobs.Delete(ctx, stale...); err != nil {
		s.logger.Warn("failed to delete stale blobs", "count", len(stale), "error", err)
	}
}
