package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"studio-ingest/internal/manifest"
)

type Project struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Asset is a stored file of a project. StoragePath is the blob key and is
// never exposed as part of an archive entry name.
type Asset struct {
	ID          string
	ProjectID   uuid.UUID
	BatchID     uuid.NullUUID
	Filename    string
	Size        int64
	Role        manifest.Role
	SourceID    sql.NullString
	ContentType string
	SHA256      string
	StoragePath string
	CreatedAt   time.Time
}

// ManifestEntry converts the row into its manifest form.
func (a Asset) ManifestEntry() manifest.Asset {
	return manifest.Asset{
		ID:          a.ID,
		Filename:    a.Filename,
		Size:        a.Size,
		Role:        a.Role,
		SourceID:    a.SourceID.String,
		ContentType: a.ContentType,
		SHA256:      a.SHA256,
		Location:    a.StoragePath,
	}
}

// BuildManifest derives the manifest of p from its assets.
func BuildManifest(p *Project, assets []Asset) *manifest.Manifest {
	entries := make([]manifest.Asset, 0, len(assets))
	for _, a := range assets {
		entries = append(entries, a.ManifestEntry())
	}
	m := manifest.New(p.ID.String(), p.Title, entries)
	m.CreatedAt = p.CreatedAt
	return m
}
