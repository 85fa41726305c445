package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"studio-ingest/internal/archive"
	"studio-ingest/internal/manifest"
	"studio-ingest/internal/middleware"
	"studio-ingest/internal/models"
	"studio-ingest/internal/store"
)

func badRequest(c *gin.Context, msg string, err error) {
	resp := models.ErrorResponse{Error: msg, Code: models.CodeInvalidRequest}
	if err != nil {
		resp.Message = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

func internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   msg,
		Message: err.Error(),
		Code:    models.CodeInternal,
	})
}

// storeError answers with 404 or 409 for the matching store errors and 500
// otherwise.
func storeError(c *gin.Context, what string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: what + " not found", Code: models.CodeNotFound})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   what + " belongs to another user",
			Message: err.Error(),
			Code:    models.CodeConflict,
		})
	default:
		internalError(c, "failed to load "+what, err)
	}
}

// archiveError answers 422 with the archive failure kind as code.
func archiveError(c *gin.Context, aerr *archive.Error) {
	resp := models.ErrorResponse{
		Error:   aerr.Error(),
		Code:    string(aerr.Kind),
		Details: &models.ErrorDetails{Missing: aerr.Missing, Extra: aerr.Extra},
	}
	var perr *manifest.ParseError
	if errors.As(aerr, &perr) {
		resp.Details.ParseKind = string(perr.Kind)
	}
	if aerr.Err != nil {
		resp.Message = aerr.Err.Error()
	}
	c.JSON(http.StatusUnprocessableEntity, resp)
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found", Code: models.CodeUnauthorized})
	}
	return id, ok
}

func uuidParam(c *gin.Context, value, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		badRequest(c, "invalid "+name, err)
		return uuid.Nil, false
	}
	return id, true
}
