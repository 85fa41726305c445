package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/services"
)

// multipartMemory is how much of a multipart body is kept in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

var fileFields = []string{"files", "file", "assets"}

type IngestHandler struct {
	ingest         *services.IngestService
	maxUploadBytes int64
}

func NewIngestHandler(ingest *services.IngestService, maxUploadBytes int64) *IngestHandler {
	return &IngestHandler{
		ingest:         ingest,
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload godoc
// @Summary     Upload a batch of assets
// @Description Stores the uploaded files as original assets of a project and starts processing them.
// @Description The returned batch id is polled through /ingest/status/{batch_id}.
// @Description Files are accepted under the "files", "file" or "assets" fields.
// @Tags        ingest
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       projectId formData string true "Project ID (UUID)"
// @Param       files formData file true "Assets (multiple files allowed)"
// @Success     200 {object} models.UploadResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     413 {object} models.ErrorResponse
// @Failure     422 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /ingest/upload [post]
func (h *IngestHandler) Upload(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Error:   "upload too large",
				Message: fmt.Sprintf("limit is %d bytes", tooLarge.Limit),
				Code:    models.CodeInvalidRequest,
			})
			return
		}
		badRequest(c, "failed to parse multipart form", err)
		return
	}
	form := c.Request.MultipartForm

	projectValue := c.PostForm("projectId")
	if projectValue == "" {
		projectValue = c.PostForm("project_id")
	}
	projectID, ok := uuidParam(c, projectValue, "project id")
	if !ok {
		return
	}

	var headers []*multipart.FileHeader
	for _, field := range fileFields {
		headers = append(headers, form.File[field]...)
	}
	if len(headers) == 0 {
		badRequest(c, "no files uploaded", fmt.Errorf("send files under one of %v", fileFields))
		return
	}

	files := make([]services.UploadedFile, len(headers))
	for i, fh := range headers {
		fh := fh
		files[i] = services.UploadedFile{
			Filename:    fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		}
	}

	result, err := h.ingest.Ingest(c.Request.Context(), userID, projectID, files)
	switch {
	case errors.Is(err, services.ErrNothingStored):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   "no file could be stored",
			Message: fmt.Sprint(result.Errors),
			Code:    models.CodeInvalidRequest,
		})
		return
	case err != nil:
		storeError(c, "project", err)
		return
	}

	resp := models.UploadResponse{
		BatchID:   result.Batch.ID.String(),
		ProjectID: projectID.String(),
		Status:    result.Batch.Status,
		Files:     make([]models.FileInfo, len(result.Assets)),
		Errors:    result.Errors,
	}
	for i, a := range result.Assets {
		resp.Files[i] = models.FileInfo{AssetID: a.ID, Filename: a.Filename, Size: a.Size}
	}
	c.JSON(http.StatusOK, resp)
}

// Status godoc
// @Summary     Get batch status
// @Description Returns the processing status of an ingestion batch and the assets it produced so far
// @Tags        ingest
// @Produce     json
// @Security    Bearer
// @Param       batch_id path string true "Batch ID (UUID)"
// @Success     200 {object} models.StatusResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /ingest/status/{batch_id} [get]
func (h *IngestHandler) Status(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	batchID, ok := uuidParam(c, c.Param("batch_id"), "batch id")
	if !ok {
		return
	}

	batch, assets, err := h.ingest.Status(c.Request.Context(), userID, batchID)
	if err != nil {
		storeError(c, "batch", err)
		return
	}

	resp := models.StatusResponse{
		BatchID:   batch.ID.String(),
		ProjectID: batch.ProjectID.String(),
		Status:    batch.Status,
		Assets:    make([]manifest.Asset, len(assets)),
		UpdatedAt: batch.UpdatedAt,
	}
	for i, a := range assets {
		resp.Assets[i] = a.ManifestEntry()
	}
	if batch.ErrorMessage.Valid {
		resp.Error = batch.ErrorMessage.String
	}
	c.JSON(http.StatusOK, resp)
}
