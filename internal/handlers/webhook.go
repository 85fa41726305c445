package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/services"
)

type WebhookHandler struct {
	ingest *services.IngestService
}

func NewWebhookHandler(ingest *services.IngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

// HandleProcessing godoc
// @Summary     Processing completion webhook
// @Description Receives the result of external processing for a batch. Authenticated with the shared webhook token.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       Authorization header string true "Shared webhook token"
// @Param       request body models.ProcessingWebhookRequest true "Processing result"
// @Success     200 {object} map[string]string "status"
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse "batch already finished"
// @Router      /webhooks/processing [post]
func (h *WebhookHandler) HandleProcessing(c *gin.Context) {
	var req models.ProcessingWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "failed to parse event", err)
		return
	}
	batchID, ok := uuidParam(c, req.BatchID, "batch id")
	if !ok {
		return
	}

	derived := make([]services.DerivedFile, len(req.Assets))
	for i, a := range req.Assets {
		derived[i] = services.DerivedFile{
			SourceID:    a.SourceID,
			Filename:    a.Filename,
			Role:        manifest.Role(a.Role),
			ContentType: a.ContentType,
			Content:     a.Content,
		}
	}

	batch, err := h.ingest.CompleteBatch(c.Request.Context(), batchID, req.Status, req.Error, derived)
	switch {
	case errors.Is(err, services.ErrBatchFinished):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "batch already finished", Code: models.CodeConflict})
		return
	case errors.Is(err, services.ErrUnknownSource), errors.Is(err, services.ErrInvalidRole):
		badRequest(c, "invalid derived asset", err)
		return
	case err != nil:
		storeError(c, "batch", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": batch.Status})
}
