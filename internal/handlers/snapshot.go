package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"studio-ingest/internal/archive"
	"studio-ingest/internal/models"
	"studio-ingest/internal/services"
)

type SnapshotHandler struct {
	snapshots       *services.SnapshotService
	maxArchiveBytes int64
	logger          *slog.Logger
}

func NewSnapshotHandler(snapshots *services.SnapshotService, maxArchiveBytes int64, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		snapshots:       snapshots,
		maxArchiveBytes: maxArchiveBytes,
		logger:          logger,
	}
}

// Export godoc
// @Summary     Export a project
// @Description Streams a zip archive holding manifest.json and every asset of the project.
// @Tags        project
// @Produce     application/zip
// @Security    Bearer
// @Param       project_id query string true "Project ID (UUID)"
// @Success     200 {file} file
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse "project has no assets"
// @Router      /project/export [post]
func (h *SnapshotHandler) Export(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, c.Query("project_id"), "project id")
	if !ok {
		return
	}

	export, err := h.snapshots.PrepareExport(c.Request.Context(), userID, projectID)
	if errors.Is(err, services.ErrEmptyProject) {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "project has no assets",
			Message: err.Error(),
			Code:    models.CodeEmptyProject,
		})
		return
	}
	if err != nil {
		storeError(c, "project", err)
		return
	}

	c.Header("Content-Type", archive.ContentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": export.Filename}))
	c.Status(http.StatusOK)
	if err := export.WriteTo(c.Request.Context(), c.Writer); err != nil {
		// Headers are gone; the client sees a truncated archive.
		h.logger.Error("export aborted", "project_id", projectID, "error", err)
		_ = c.Error(err)
		c.Abort()
	}
}

// Resume godoc
// @Summary     Resume a project from an archive
// @Description Restores the project described by an exported archive under its original id, replacing its assets.
// @Description Unusable archives answer 422 with code corrupt_archive, missing_manifest, manifest_parse_failed or asset_mismatch.
// @Tags        project
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       archive formData file true "Project archive (.zip)"
// @Success     200 {object} models.ResumeResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse "project belongs to another user"
// @Failure     413 {object} models.ErrorResponse
// @Failure     422 {object} models.ErrorResponse
// @Router      /project/resume [post]
func (h *SnapshotHandler) Resume(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if h.maxArchiveBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxArchiveBytes)
	}
	fh, err := c.FormFile("archive")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Error:   "archive too large",
				Message: fmt.Sprintf("limit is %d bytes", tooLarge.Limit),
				Code:    models.CodeInvalidRequest,
			})
			return
		}
		badRequest(c, "missing archive", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		internalError(c, "failed to open archive", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		internalError(c, "failed to read archive", err)
		return
	}

	project, m, err := h.snapshots.Resume(c.Request.Context(), userID, data)
	if err != nil {
		var aerr *archive.Error
		if errors.As(err, &aerr) {
			h.logger.Warn("archive rejected", "filename", fh.Filename, "kind", aerr.Kind, "error", err)
			archiveError(c, aerr)
			return
		}
		storeError(c, "project", err)
		return
	}

	c.JSON(http.StatusOK, models.ResumeResponse{
		Project:  models.NewProjectResponse(project, m, false),
		Manifest: m,
	})
}
