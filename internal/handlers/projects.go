package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"studio-ingest/internal/models"
	"studio-ingest/internal/store"
)

type ProjectsHandler struct {
	store store.Store
}

func NewProjectsHandler(st store.Store) *ProjectsHandler {
	return &ProjectsHandler{store: st}
}

// CreateProject godoc
// @Summary     Create a project
// @Description Creates an empty project owned by the caller. Assets are added through ingestion or resume.
// @Tags        projects
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.CreateProjectRequest true "Project"
// @Success     200 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /projects [post]
func (h *ProjectsHandler) CreateProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", err)
		return
	}

	project := &models.Project{ID: uuid.New(), OwnerID: userID, Title: req.Title}
	if err := h.store.CreateProject(c.Request.Context(), project); err != nil {
		internalError(c, "failed to create project", err)
		return
	}
	c.JSON(http.StatusOK, models.NewProjectResponse(project, nil, false))
}

// ListProjects godoc
// @Summary     List projects
// @Description Lists the caller's projects with asset counts and total sizes
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.ProjectListResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /projects [get]
func (h *ProjectsHandler) ListProjects(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	projects, err := h.store.ListProjects(ctx, userID)
	if err != nil {
		internalError(c, "failed to list projects", err)
		return
	}

	resp := models.ProjectListResponse{Projects: make([]models.ProjectResponse, 0, len(projects))}
	for i := range projects {
		p := &projects[i]
		assets, err := h.store.ListAssets(ctx, p.ID)
		if err != nil {
			internalError(c, "failed to list assets", err)
			return
		}
		resp.Projects = append(resp.Projects, models.NewProjectResponse(p, models.BuildManifest(p, assets), false))
	}
	c.JSON(http.StatusOK, resp)
}

// GetProject godoc
// @Summary     Get a project
// @Description Returns a project and its current manifest
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id} [get]
func (h *ProjectsHandler) GetProject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, c.Param("project_id"), "project id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	project, err := h.store.GetProject(ctx, projectID)
	if err == nil && project.OwnerID != userID {
		err = fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	if err != nil {
		storeError(c, "project", err)
		return
	}
	assets, err := h.store.ListAssets(ctx, projectID)
	if err != nil {
		internalError(c, "failed to list assets", err)
		return
	}
	c.JSON(http.StatusOK, models.NewProjectResponse(project, models.BuildManifest(project, assets), true))
}
