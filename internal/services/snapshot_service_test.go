package services_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-ingest/internal/archive"
	"studio-ingest/internal/logging"
	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/services"
	"studio-ingest/internal/store"
)

func (f *fixture) snapshotService() *services.SnapshotService {
	return services.NewSnapshotService(f.store, f.blobs, f.events, logging.Discard())
}

func exportBytes(t *testing.T, svc *services.SnapshotService, owner, projectID uuid.UUID) (*services.Export, []byte) {
	t.Helper()
	exp, err := svc.PrepareExport(context.Background(), owner, projectID)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, exp.WriteTo(context.Background(), &buf))
	return exp, buf.Bytes()
}

func TestExport_EmptyProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.snapshotService().PrepareExport(context.Background(), f.owner, f.proj.ID)
	assert.ErrorIs(t, err, services.ErrEmptyProject)

	_, err = f.snapshotService().PrepareExport(context.Background(), uuid.New(), f.proj.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExportResume_RoundTripIntoFreshBackend(t *testing.T) {
	f := newFixture(t)
	ingest := f.ingestService(services.TextProcessor{})
	_, err := ingest.Ingest(context.Background(), f.owner, f.proj.ID, []services.UploadedFile{
		upload("brief.txt", "Ship it. Then rest."),
		upload("diagram.png", "\x89PNG....."),
	})
	require.NoError(t, err)
	ingest.Wait()

	exp, data := exportBytes(t, f.snapshotService(), f.owner, f.proj.ID)
	assert.Len(t, exp.Manifest.Assets, 4)
	assert.Contains(t, exp.Filename, "research-notes-")

	// A second backend with nothing in it.
	other := newFixture(t)
	project, restored, err := other.snapshotService().Resume(context.Background(), f.owner, data)
	require.NoError(t, err)
	assert.Equal(t, f.proj.ID, project.ID)
	assert.Equal(t, "Research notes", project.Title)
	assert.True(t, manifest.SetEqual(exp.Manifest, restored))

	_, again := exportBytes(t, other.snapshotService(), f.owner, f.proj.ID)
	bundle, err := archive.ReadBytes(again)
	require.NoError(t, err)
	assert.True(t, manifest.SetEqual(exp.Manifest, bundle.Manifest))
	assert.Contains(t, other.events.types(), store.EventProjectResumed)
}

func TestResume_ReplacesExistingAssets(t *testing.T) {
	f := newFixture(t)
	ingest := f.ingestService(nil)
	ctx := context.Background()

	_, err := ingest.Ingest(ctx, f.owner, f.proj.ID, []services.UploadedFile{upload("v1.txt", "one")})
	require.NoError(t, err)
	_, data := exportBytes(t, f.snapshotService(), f.owner, f.proj.ID)

	_, err = ingest.Ingest(ctx, f.owner, f.proj.ID, []services.UploadedFile{upload("v2.txt", "two")})
	require.NoError(t, err)
	before, _ := f.store.ListAssets(ctx, f.proj.ID)
	require.Len(t, before, 2)

	_, restored, err := f.snapshotService().Resume(ctx, f.owner, data)
	require.NoError(t, err)
	require.Len(t, restored.Assets, 1)
	assert.Equal(t, "v1.txt", restored.Assets[0].Filename)

	for _, a := range before {
		if a.Filename == "v2.txt" {
			_, err := f.blobs.Get(ctx, a.StoragePath)
			assert.ErrorIs(t, err, store.ErrNotFound, "stale blob should be removed")
		}
	}
}

// flakyBlobs fails the failOn-th Put and remembers every key it was asked to write.
type flakyBlobs struct {
	*store.MemoryBlobs
	failOn int32
	puts   int32

	mu   sync.Mutex
	keys []string
}

func (b *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	b.mu.Lock()
	b.keys = append(b.keys, key)
	b.mu.Unlock()
	if atomic.AddInt32(&b.puts, 1) == b.failOn {
		return errors.New("storage down")
	}
	return b.MemoryBlobs.Put(ctx, key, r, size, contentType)
}

// dropLastStore loses the last asset of the next ReplaceAssets call.
type dropLastStore struct {
	*store.MemoryStore
	armed bool
}

func (s *dropLastStore) ReplaceAssets(ctx context.Context, projectID uuid.UUID, assets []models.Asset) error {
	if s.armed && len(assets) > 0 {
		s.armed = false
		assets = assets[:len(assets)-1]
	}
	return s.MemoryStore.ReplaceAssets(ctx, projectID, assets)
}

// rewrittenArchive packs the current asset ids of a project with new contents.
func rewrittenArchive(t *testing.T, f *fixture) []byte {
	t.Helper()
	current, err := f.store.ListAssets(context.Background(), f.proj.ID)
	require.NoError(t, err)
	content := make(map[string]string, len(current))
	assets := make([]manifest.Asset, 0, len(current))
	for _, a := range current {
		content[a.ID] = "rewritten " + a.Filename
		assets = append(assets, manifest.Asset{
			ID:       a.ID,
			Filename: a.Filename,
			Size:     int64(len(content[a.ID])),
			Role:     a.Role,
		})
	}
	var buf bytes.Buffer
	m := manifest.New(f.proj.ID.String(), f.proj.Title, assets)
	require.NoError(t, archive.Write(context.Background(), &buf, m, func(_ context.Context, a manifest.Asset) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(content[a.ID])), nil
	}))
	return buf.Bytes()
}

func TestResume_FailedRestoreKeepsProjectExportable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ingestService(nil).Ingest(ctx, f.owner, f.proj.ID, []services.UploadedFile{
		upload("a.txt", "alpha"),
		upload("b.txt", "bravo bravo"),
		upload("c.txt", "charlie"),
	})
	require.NoError(t, err)
	before, _ := exportBytes(t, f.snapshotService(), f.owner, f.proj.ID)
	data := rewrittenArchive(t, f)

	blobs := &flakyBlobs{MemoryBlobs: f.blobs, failOn: 2}
	svc := services.NewSnapshotService(f.store, blobs, f.events, logging.Discard())
	_, _, err = svc.Resume(ctx, f.owner, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage down")

	after, _ := exportBytes(t, f.snapshotService(), f.owner, f.proj.ID)
	assert.True(t, manifest.SetEqual(before.Manifest, after.Manifest))

	for _, key := range blobs.keys {
		_, err := f.blobs.Get(ctx, key)
		assert.ErrorIs(t, err, store.ErrNotFound, "restored blob %s should be discarded", key)
	}
}

func TestResume_MismatchAfterSwapRestoresPreviousAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ingestService(nil).Ingest(ctx, f.owner, f.proj.ID, []services.UploadedFile{
		upload("a.txt", "alpha"),
		upload("b.txt", "bravo bravo"),
	})
	require.NoError(t, err)
	before, _ := exportBytes(t, f.snapshotService(), f.owner, f.proj.ID)
	data := rewrittenArchive(t, f)

	lossy := &dropLastStore{MemoryStore: f.store, armed: true}
	svc := services.NewSnapshotService(lossy, f.blobs, f.events, logging.Discard())
	_, _, err = svc.Resume(ctx, f.owner, data)
	var aerr *archive.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, archive.AssetMismatch, aerr.Kind)

	after, archived := exportBytes(t, f.snapshotService(), f.owner, f.proj.ID)
	assert.True(t, manifest.SetEqual(before.Manifest, after.Manifest))
	_, err = archive.ReadBytes(archived)
	assert.NoError(t, err)
}

func TestResume_OtherOwnersProjectConflicts(t *testing.T) {
	f := newFixture(t)
	ingest := f.ingestService(nil)
	_, err := ingest.Ingest(context.Background(), f.owner, f.proj.ID, []services.UploadedFile{upload("a.txt", "a")})
	require.NoError(t, err)
	_, data := exportBytes(t, f.snapshotService(), f.owner, f.proj.ID)

	_, _, err = f.snapshotService().Resume(context.Background(), uuid.New(), data)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestResume_ClassifiesBrokenArchives(t *testing.T) {
	f := newFixture(t)
	svc := f.snapshotService()

	_, _, err := svc.Resume(context.Background(), f.owner, []byte("not a zip"))
	var aerr *archive.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, archive.CorruptArchive, aerr.Kind)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("assets/a1")
	_, _ = w.Write([]byte("x"))
	require.NoError(t, zw.Close())
	_, _, err = svc.Resume(context.Background(), f.owner, buf.Bytes())
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, archive.MissingManifest, aerr.Kind)

	m := manifest.New("not-a-uuid", "t", []manifest.Asset{{ID: "a1", Filename: "a", Size: 1, Role: manifest.RoleOriginal}})
	buf.Reset()
	require.NoError(t, archive.Write(context.Background(), &buf, m, func(context.Context, manifest.Asset) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("x")), nil
	}))
	_, _, err = svc.Resume(context.Background(), f.owner, buf.Bytes())
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, archive.ManifestParseFailed, aerr.Kind)
}

func TestArchiveFilename(t *testing.T) {
	id := uuid.MustParse("0b7e1c52-8d7a-4c55-9f1e-4b1f8c0e2a11")
	assert.Equal(t, "q3-launch-plan-0b7e1c52.zip", services.ArchiveFilename(&models.Project{ID: id, Title: "Q3 Launch / Plan!"}))
	assert.Equal(t, id.String()+".zip", services.ArchiveFilename(&models.Project{ID: id, Title: "???"}))
}
