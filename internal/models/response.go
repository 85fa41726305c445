package models

import (
	"time"

	"studio-ingest/internal/manifest"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeUnauthorized        = "unauthorized"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeEmptyProject        = "empty_project"
	CodeCorruptArchive      = "corrupt_archive"
	CodeMissingManifest     = "missing_manifest"
	CodeManifestParseFailed = "manifest_parse_failed"
	CodeAssetMismatch       = "asset_mismatch"
	CodeInternal            = "internal_error"
)

type ErrorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message,omitempty"`
	Code    string        `json:"code,omitempty"`
	Details *ErrorDetails `json:"details,omitempty"`
}

type ErrorDetails struct {
	Missing   []string `json:"missing,omitempty"`
	Extra     []string `json:"extra,omitempty"`
	ParseKind string   `json:"parse_kind,omitempty"`
}

type UploadResponse struct {
	BatchID   string     `json:"batch_id"`
	ProjectID string     `json:"project_id"`
	Status    string     `json:"status"`
	Files     []FileInfo `json:"files"`
	Errors    []string   `json:"errors,omitempty"`
}

type FileInfo struct {
	AssetID  string `json:"asset_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type StatusResponse struct {
	BatchID   string           `json:"batch_id"`
	ProjectID string           `json:"project_id"`
	Status    string           `json:"status"`
	Assets    []manifest.Asset `json:"assets,omitempty"`
	Error     string           `json:"error,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type ProjectResponse struct {
	ID         string             `json:"id"`
	OwnerID    string             `json:"owner_id"`
	Title      string             `json:"title"`
	AssetCount int                `json:"asset_count"`
	TotalSize  int64              `json:"total_size"`
	Manifest   *manifest.Manifest `json:"manifest,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type ResumeResponse struct {
	Project  ProjectResponse    `json:"project"`
	Manifest *manifest.Manifest `json:"manifest"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// NewProjectResponse renders p with the stats of m. The manifest itself is
// only attached when withManifest is set.
func NewProjectResponse(p *Project, m *manifest.Manifest, withManifest bool) ProjectResponse {
	resp := ProjectResponse{
		ID:        p.ID.String(),
		OwnerID:   p.OwnerID.String(),
		Title:     p.Title,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if m != nil {
		resp.AssetCount, resp.TotalSize = m.Stats()
		if withManifest {
			resp.Manifest = m
		}
	}
	return resp
}
