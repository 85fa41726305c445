package snapshot_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-ingest/internal/apiclient"
	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/snapshot"
	"studio-ingest/internal/transport"
)

func newTransport(t *testing.T, h http.HandlerFunc) transport.Transport {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return transport.NewHTTPTransport(srv.URL, "tok", 5*time.Second)
}

func writeError(w http.ResponseWriter, status int, body models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestExportProject(t *testing.T) {
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/project/export", r.URL.Path)
		switch r.URL.Query().Get("project_id") {
		case "p1":
			w.Header().Set("Content-Disposition", `attachment; filename="launch-p1.zip"`)
			_, _ = w.Write([]byte("PK-data"))
		case "p2":
			_, _ = w.Write([]byte("PK"))
		case "empty":
			writeError(w, http.StatusConflict, models.ErrorResponse{Error: "project has no assets", Code: models.CodeEmptyProject})
		case "boom":
			writeError(w, http.StatusInternalServerError, models.ErrorResponse{Error: "failed", Code: models.CodeInternal})
		default:
			writeError(w, http.StatusNotFound, models.ErrorResponse{Error: "project not found", Code: models.CodeNotFound})
		}
	})

	var progressed bool
	p := snapshot.NewPackager(tr, snapshot.WithDownloadProgress(func(sent, total int64) { progressed = true }))
	ctx := context.Background()

	h, err := p.ExportProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "launch-p1.zip", h.Filename)
	assert.Equal(t, []byte("PK-data"), h.Data)
	assert.True(t, progressed)

	h, err = p.ExportProject(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2.zip", h.Filename)

	_, err = p.ExportProject(ctx, "empty")
	assert.ErrorIs(t, err, snapshot.ErrEmptyProject)

	_, err = p.ExportProject(ctx, "gone")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	_, err = p.ExportProject(ctx, "boom")
	var apiErr *apiclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestExportProject_EmptyIDMakesNoRequest(t *testing.T) {
	calls := 0
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) { calls++ })

	_, err := snapshot.NewPackager(tr).ExportProject(context.Background(), "  ")
	assert.ErrorIs(t, err, snapshot.ErrInvalidInput)
	assert.Zero(t, calls)
}

func TestArchiveHandle_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	h := &snapshot.ArchiveHandle{Filename: "../escape.zip", Data: []byte("PK")}

	path, err := h.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.zip"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), data)
}

func TestResumeProject(t *testing.T) {
	m := manifest.New("p1", "Launch", []manifest.Asset{{ID: "a1", Filename: "a.txt", Size: 1, Role: manifest.RoleOriginal}})
	tr := newTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/project/resume", r.URL.Path)
		f, hdr, err := r.FormFile(snapshot.ArchiveField)
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "launch.zip", hdr.Filename)

		switch string(data) {
		case "good":
			_ = json.NewEncoder(w).Encode(models.ResumeResponse{
				Project:  models.ProjectResponse{ID: "p1", Title: "Launch", AssetCount: 1},
				Manifest: m,
			})
		case "corrupt":
			writeError(w, http.StatusUnprocessableEntity, models.ErrorResponse{Error: "corrupt archive", Code: models.CodeCorruptArchive})
		case "nomanifest":
			writeError(w, http.StatusUnprocessableEntity, models.ErrorResponse{Error: "missing manifest", Code: models.CodeMissingManifest})
		case "badmanifest":
			writeError(w, http.StatusUnprocessableEntity, models.ErrorResponse{
				Error:   "manifest parse failed",
				Code:    models.CodeManifestParseFailed,
				Details: &models.ErrorDetails{ParseKind: "unsupported_version"},
			})
		case "mismatch":
			writeError(w, http.StatusUnprocessableEntity, models.ErrorResponse{
				Error:   "asset mismatch",
				Code:    models.CodeAssetMismatch,
				Details: &models.ErrorDetails{Missing: []string{"a2"}, Extra: []string{"a9"}},
			})
		default:
			writeError(w, http.StatusConflict, models.ErrorResponse{Error: "project belongs to another user", Code: models.CodeConflict})
		}
	})
	u := snapshot.NewUnpacker(tr)
	ctx := context.Background()

	project, err := u.ResumeProject(ctx, "launch.zip", []byte("good"))
	require.NoError(t, err)
	assert.Equal(t, "p1", project.ID)
	assert.True(t, manifest.SetEqual(m, project.Manifest))

	cases := []struct {
		data string
		kind snapshot.ResumeErrorKind
	}{
		{"corrupt", snapshot.CorruptArchive},
		{"nomanifest", snapshot.MissingManifest},
		{"badmanifest", snapshot.ManifestParseFailed},
		{"mismatch", snapshot.AssetMismatch},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			_, err := u.ResumeProject(ctx, "launch.zip", []byte(tc.data))
			var re *snapshot.ResumeError
			require.True(t, errors.As(err, &re), "got %v", err)
			assert.Equal(t, tc.kind, re.Kind)
			switch tc.kind {
			case snapshot.AssetMismatch:
				assert.Equal(t, []string{"a2"}, re.Missing)
				assert.Equal(t, []string{"a9"}, re.Extra)
			case snapshot.ManifestParseFailed:
				assert.Equal(t, "unsupported_version", re.ParseKind)
			}
		})
	}

	_, err = u.ResumeProject(ctx, "launch.zip", []byte("someone else's"))
	var apiErr *apiclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, models.CodeConflict, apiErr.Code)
}

func TestResumeProject_EmptyData(t *testing.T) {
	_, err := snapshot.NewUnpacker(nil).ResumeProject(context.Background(), "x.zip", nil)
	assert.ErrorIs(t, err, snapshot.ErrInvalidInput)
}
