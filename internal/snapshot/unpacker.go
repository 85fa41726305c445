package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"studio-ingest/internal/apiclient"
	"studio-ingest/internal/logging"
	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/transport"
)

// ArchiveField is the multipart part carrying the archive.
const ArchiveField = "archive"

type ResumeErrorKind string

const (
	CorruptArchive      ResumeErrorKind = "CorruptArchive"
	MissingManifest     ResumeErrorKind = "MissingManifest"
	ManifestParseFailed ResumeErrorKind = "ManifestParseFailed"
	AssetMismatch       ResumeErrorKind = "AssetMismatch"
)

var resumeKinds = map[string]ResumeErrorKind{
	models.CodeCorruptArchive:      CorruptArchive,
	models.CodeMissingManifest:     MissingManifest,
	models.CodeManifestParseFailed: ManifestParseFailed,
	models.CodeAssetMismatch:       AssetMismatch,
}

// ResumeError is a resume the backend refused because of the archive itself.
type ResumeError struct {
	Kind ResumeErrorKind
	// ParseKind is set for ManifestParseFailed.
	ParseKind string
	Message   string
	Missing   []string
	Extra     []string
}

func (e *ResumeError) Error() string {
	switch e.Kind {
	case AssetMismatch:
		return fmt.Sprintf("resume failed: %s (missing %d, extra %d)", e.Kind, len(e.Missing), len(e.Extra))
	case ManifestParseFailed:
		if e.ParseKind != "" {
			return fmt.Sprintf("resume failed: %s (%s): %s", e.Kind, e.ParseKind, e.Message)
		}
	}
	return fmt.Sprintf("resume failed: %s: %s", e.Kind, e.Message)
}

// Project is a resumed project as reported by the backend.
type Project struct {
	ID       string
	Title    string
	Manifest *manifest.Manifest
}

// Unpacker uploads archives to resume the projects they describe.
type Unpacker struct {
	transport  transport.Transport
	logger     *slog.Logger
	onProgress transport.ProgressFunc
}

type UnpackerOption func(*Unpacker)

func WithUploadProgress(fn transport.ProgressFunc) UnpackerOption {
	return func(u *Unpacker) { u.onProgress = fn }
}

func WithUnpackerLogger(l *slog.Logger) UnpackerOption {
	return func(u *Unpacker) { u.logger = l }
}

func NewUnpacker(t transport.Transport, opts ...UnpackerOption) *Unpacker {
	u := &Unpacker{transport: t, logger: logging.Discard()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ResumeProject sends an archive to POST /project/resume. Archive problems
// come back as *ResumeError, each kind kept apart.
func (u *Unpacker) ResumeProject(ctx context.Context, name string, data []byte) (*Project, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty archive", ErrInvalidInput)
	}
	if name == "" {
		name = "project.zip"
	}

	resp, err := u.transport.Send(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/project/resume",
		Files: []transport.File{{
			Field:    ArchiveField,
			Name:     name,
			Size:     int64(len(data)),
			MimeType: "application/zip",
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		}},
		OnProgress: u.onProgress,
	})
	if err != nil {
		return nil, resumeError(apiclient.DecodeError(err))
	}

	var body models.ResumeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	m := body.Manifest
	if m == nil {
		m = body.Project.Manifest
	}
	u.logger.Info("project resumed", "project_id", body.Project.ID, "assets", body.Project.AssetCount)
	return &Project{ID: body.Project.ID, Title: body.Project.Title, Manifest: m}, nil
}

func resumeError(err error) error {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	kind, ok := resumeKinds[apiErr.Code]
	if !ok {
		if apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		}
		return err
	}
	re := &ResumeError{Kind: kind, Message: apiErr.Message}
	if d := apiErr.Details; d != nil {
		re.Missing, re.Extra, re.ParseKind = d.Missing, d.Extra, d.ParseKind
	}
	return re
}
