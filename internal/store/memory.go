package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio-ingest/internal/models"
)

// MemoryStore keeps every row in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]models.Project
	assets   map[uuid.UUID][]models.Asset
	batches  map[uuid.UUID]models.IngestBatch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[uuid.UUID]models.Project),
		assets:   make(map[uuid.UUID][]models.Asset),
		batches:  make(map[uuid.UUID]models.IngestBatch),
	}
}

func (s *MemoryStore) CreateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, ErrConflict)
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListProjects(_ context.Context, ownerID uuid.UUID) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Project
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpsertProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.projects[p.ID]; ok {
		if existing.OwnerID != p.OwnerID {
			return fmt.Errorf("project %s: %w", p.ID, ErrConflict)
		}
		existing.Title = p.Title
		existing.UpdatedAt = now
		s.projects[p.ID] = existing
		*p = existing
		return nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.projects[p.ID] = *p
	return nil
}

func (s *MemoryStore) AddAssets(_ context.Context, assets []models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, a := range assets {
		if _, ok := s.projects[a.ProjectID]; !ok {
			return fmt.Errorf("project %s: %w", a.ProjectID, ErrNotFound)
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		s.assets[a.ProjectID] = append(s.assets[a.ProjectID], a)
	}
	return nil
}

func (s *MemoryStore) ListAssets(_ context.Context, projectID uuid.UUID) ([]models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Asset(nil), s.assets[projectID]...), nil
}

func (s *MemoryStore) ListBatchAssets(_ context.Context, batchID uuid.UUID) ([]models.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	var out []models.Asset
	for _, a := range s.assets[b.ProjectID] {
		if a.BatchID.Valid && a.BatchID.UUID == batchID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ReplaceAssets(_ context.Context, projectID uuid.UUID, assets []models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	now := time.Now().UTC()
	replaced := make([]models.Asset, 0, len(assets))
	for _, a := range assets {
		a.ProjectID = projectID
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		replaced = append(replaced, a)
	}
	s.assets[projectID] = replaced
	return nil
}

func (s *MemoryStore) CreateBatch(_ context.Context, b *models.IngestBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	s.batches[b.ID] = *b
	return nil
}

func (s *MemoryStore) GetBatch(_ context.Context, id uuid.UUID) (*models.IngestBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	return &b, nil
}

func (s *MemoryStore) UpdateBatchStatus(_ context.Context, id uuid.UUID, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	b.Status = status
	b.ErrorMessage.String, b.ErrorMessage.Valid = errorMessage, errorMessage != ""
	b.UpdatedAt = time.Now().UTC()
	s.batches[id] = b
	return nil
}

// MemoryBlobs is a BlobStore backed by a map.
type MemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte)}
}

func (b *MemoryBlobs) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("blob %s: expected %d bytes, got %d", key, size, len(data))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = data
	return nil
}

func (b *MemoryBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *MemoryBlobs) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.blobs, k)
	}
	return nil
}

// LogPublisher writes events to a logger instead of broadcasting them.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, e Event) error {
	p.Logger.Info("event", "type", e.Type, "project_id", e.ProjectID, "batch_id", e.BatchID)
	return nil
}
