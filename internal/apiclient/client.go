// Package apiclient talks to the ingestion backend's JSON endpoints.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"studio-ingest/internal/ingest"
	"studio-ingest/internal/logging"
	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/poller"
	"studio-ingest/internal/transport"
)

// ProjectField carries the target project of an upload.
const ProjectField = "projectId"

// APIError is a non-2xx answer decoded from the backend's error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    *models.ErrorDetails

	cause *transport.Failure
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, msg)
}

func (e *APIError) Unwrap() error { return e.cause }

// NotFound reports whether the backend answered 404.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// DecodeError turns a transport failure carrying a status code into an
// *APIError. Other errors are returned unchanged.
func DecodeError(err error) error {
	var f *transport.Failure
	if !errors.As(err, &f) || f.StatusCode == 0 {
		return err
	}
	apiErr := &APIError{StatusCode: f.StatusCode, cause: f}
	var body models.ErrorResponse
	if json.Unmarshal(f.Body, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		if body.Message != "" {
			apiErr.Message = body.Error + ": " + body.Message
		}
		apiErr.Details = body.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(f.Body))
	}
	return apiErr
}

type Client struct {
	transport transport.Transport
	logger    *slog.Logger
}

func NewClient(t transport.Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{transport: t, logger: logger}
}

// Transport exposes the underlying transport for callers that need raw
// responses.
func (c *Client) Transport() transport.Transport {
	return c.transport
}

// Upload sends a batch to POST /ingest/upload.
func (c *Client) Upload(ctx context.Context, projectID string, files []transport.File, onProgress transport.ProgressFunc) (*ingest.Receipt, error) {
	parts := make([]transport.File, len(files))
	for i, f := range files {
		if f.Field == "" {
			f.Field = ingest.UploadField
		}
		parts[i] = f
	}

	var resp models.UploadResponse
	err := c.do(ctx, &transport.Request{
		Method:     http.MethodPost,
		Path:       "/ingest/upload",
		Fields:     map[string]string{ProjectField: projectID},
		Files:      parts,
		OnProgress: onProgress,
	}, &resp)
	if err != nil {
		return nil, err
	}
	// Without a batch id the coordinator falls back to its grace interval.
	if resp.BatchID == "" {
		c.logger.Warn("upload response has no batch_id", "project_id", projectID)
	}
	c.logger.Debug("batch uploaded", "batch_id", resp.BatchID, "files", len(resp.Files), "rejected", len(resp.Errors))

	assets := make([]manifest.Asset, 0, len(resp.Files))
	for _, f := range resp.Files {
		assets = append(assets, manifest.Asset{
			ID:       f.AssetID,
			Filename: f.Filename,
			Size:     f.Size,
			Role:     manifest.RoleOriginal,
		})
	}
	return &ingest.Receipt{
		BatchID:   resp.BatchID,
		ProjectID: resp.ProjectID,
		Status:    poller.Status(resp.Status),
		Assets:    assets,
	}, nil
}

// FetchStatus reads GET /ingest/status/:id.
func (c *Client) FetchStatus(ctx context.Context, batchID string) (*poller.Report, error) {
	var resp models.StatusResponse
	err := c.do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/ingest/status/" + batchID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &poller.Report{
		ResourceID: resp.BatchID,
		Status:     poller.Status(resp.Status),
		Error:      resp.Error,
		Assets:     resp.Assets,
		UpdatedAt:  resp.UpdatedAt,
	}, nil
}

func (c *Client) CreateProject(ctx context.Context, title string) (*models.ProjectResponse, error) {
	body, err := json.Marshal(models.CreateProjectRequest{Title: title})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var resp models.ProjectResponse
	err = c.do(ctx, &transport.Request{
		Method:      http.MethodPost,
		Path:        "/projects",
		Body:        body,
		ContentType: "application/json",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]models.ProjectResponse, error) {
	var resp models.ProjectListResponse
	if err := c.do(ctx, &transport.Request{Method: http.MethodGet, Path: "/projects"}, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// GetProject returns a project together with its manifest.
func (c *Client) GetProject(ctx context.Context, projectID string) (*models.ProjectResponse, error) {
	var resp models.ProjectResponse
	if err := c.do(ctx, &transport.Request{Method: http.MethodGet, Path: "/projects/" + projectID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, req *transport.Request, out interface{}) error {
	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return DecodeError(err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(resp.Body))
	}
	return nil
}
