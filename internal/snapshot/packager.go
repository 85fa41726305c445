// Package snapshot exports projects as archive bundles and resumes them from
// one, on behalf of the client.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"studio-ingest/internal/apiclient"
	"studio-ingest/internal/logging"
	"studio-ingest/internal/transport"
)

var (
	ErrInvalidInput = errors.New("invalid snapshot request")
	ErrNotFound     = errors.New("project not found")
	ErrEmptyProject = errors.New("project has no assets to export")
)

// ArchiveHandle is a downloaded archive, ready to be saved.
type ArchiveHandle struct {
	Filename string
	Data     []byte
}

// Save writes the archive into dir under its filename and returns the path.
func (h *ArchiveHandle) Save(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, filepath.Base(h.Filename))
	if err := os.WriteFile(path, h.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return path, nil
}

// Packager requests project archives from the backend.
type Packager struct {
	transport  transport.Transport
	logger     *slog.Logger
	onProgress transport.ProgressFunc
}

type PackagerOption func(*Packager)

// WithDownloadProgress reports archive download progress.
func WithDownloadProgress(fn transport.ProgressFunc) PackagerOption {
	return func(p *Packager) { p.onProgress = fn }
}

func WithPackagerLogger(l *slog.Logger) PackagerOption {
	return func(p *Packager) { p.logger = l }
}

func NewPackager(t transport.Transport, opts ...PackagerOption) *Packager {
	p := &Packager{transport: t, logger: logging.Discard()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExportProject downloads the archive of a project.
func (p *Packager) ExportProject(ctx context.Context, projectID string) (*ArchiveHandle, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: empty project id", ErrInvalidInput)
	}

	resp, err := p.transport.Send(ctx, &transport.Request{
		Method:     http.MethodPost,
		Path:       "/project/export",
		Query:      map[string]string{"project_id": projectID},
		OnProgress: p.onProgress,
	})
	if err != nil {
		err = apiclient.DecodeError(err)
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusNotFound:
				return nil, fmt.Errorf("%w: %s", ErrNotFound, projectID)
			case http.StatusConflict:
				return nil, fmt.Errorf("%w: %s", ErrEmptyProject, projectID)
			}
		}
		return nil, err
	}

	handle := &ArchiveHandle{
		Filename: attachmentName(resp.Header.Get("Content-Disposition")),
		Data:     resp.Body,
	}
	if handle.Filename == "" {
		handle.Filename = projectID + ".zip"
	}
	p.logger.Info("project exported", "project_id", projectID, "filename", handle.Filename, "bytes", len(handle.Data))
	return handle, nil
}

func attachmentName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == "/" {
		return ""
	}
	return name
}
