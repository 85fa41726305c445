package archive_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"studio-ingest/internal/archive"
	"studio-ingest/internal/manifest"
)

func sum(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func fixture() (*manifest.Manifest, map[string][]byte) {
	content := map[string][]byte{
		"A": []byte("original manuscript bytes"),
		"B": []byte("thumb"),
	}
	m := manifest.New("proj-1", "Book", []manifest.Asset{
		{ID: "A", Filename: "draft.docx", Size: int64(len(content["A"])), Role: manifest.RoleOriginal, SHA256: sum(content["A"])},
		{ID: "B", Filename: "draft.png", Size: int64(len(content["B"])), Role: manifest.RoleThumbnail, SourceID: "A"},
	})
	return m, content
}

func opener(content map[string][]byte) archive.OpenFunc {
	return func(_ context.Context, a manifest.Asset) (io.ReadCloser, error) {
		b, ok := content[a.ID]
		if !ok {
			return nil, errors.New("no such asset")
		}
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

func pack(t *testing.T, m *manifest.Manifest, content map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, archive.Write(context.Background(), &buf, m, opener(content)))
	return buf.Bytes()
}

// rawZip builds a container by hand so tests can break the bundle layout.
func rawZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func kindOf(t *testing.T, err error) archive.Kind {
	t.Helper()
	var aerr *archive.Error
	require.True(t, errors.As(err, &aerr), "want *archive.Error, got %v", err)
	return aerr.Kind
}

func TestWriteRead_RoundTrip(t *testing.T) {
	m, content := fixture()
	data := pack(t, m, content)

	bundle, err := archive.ReadBytes(data)
	require.NoError(t, err)
	assert.True(t, manifest.SetEqual(m, bundle.Manifest))

	for id, want := range content {
		rc, err := bundle.Open(id)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestWrite_EmptyManifest(t *testing.T) {
	var buf bytes.Buffer
	err := archive.Write(context.Background(), &buf, manifest.New("p", "", nil), opener(nil))
	assert.ErrorIs(t, err, archive.ErrEmptyManifest)
	assert.Zero(t, buf.Len())
}

func TestWrite_SizeDisagreesWithManifest(t *testing.T) {
	m, content := fixture()
	content["B"] = []byte("a much longer thumbnail")
	var buf bytes.Buffer
	err := archive.Write(context.Background(), &buf, m, opener(content))
	assert.Error(t, err)
}

func TestRead_NotAnArchive(t *testing.T) {
	_, err := archive.ReadBytes([]byte("this is just some text, not a zip file"))
	assert.Equal(t, archive.CorruptArchive, kindOf(t, err))
}

func TestRead_NoManifest(t *testing.T) {
	data := rawZip(t, map[string][]byte{"assets/A": []byte("x")})
	_, err := archive.ReadBytes(data)
	assert.Equal(t, archive.MissingManifest, kindOf(t, err))
}

func TestRead_ManifestUnreadable(t *testing.T) {
	data := rawZip(t, map[string][]byte{archive.ManifestName: []byte("not json")})
	_, err := archive.ReadBytes(data)
	assert.Equal(t, archive.ManifestParseFailed, kindOf(t, err))

	var perr *manifest.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, manifest.NotManifest, perr.Kind)
}

func TestRead_ManifestVersionUnsupported(t *testing.T) {
	data := rawZip(t, map[string][]byte{
		archive.ManifestName: []byte(`{"version":42,"project_id":"p","assets":[]}`),
	})
	_, err := archive.ReadBytes(data)
	assert.Equal(t, archive.ManifestParseFailed, kindOf(t, err))

	var perr *manifest.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, manifest.UnsupportedVersion, perr.Kind)
}

func TestRead_AssetMissingFromContainer(t *testing.T) {
	m, content := fixture()
	raw, err := manifest.Serialize(m)
	require.NoError(t, err)

	data := rawZip(t, map[string][]byte{
		archive.ManifestName:   raw,
		archive.EntryName("A"): content["A"],
	})
	_, err = archive.ReadBytes(data)
	require.Equal(t, archive.AssetMismatch, kindOf(t, err))

	var aerr *archive.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, []string{"B"}, aerr.Missing)
	assert.Empty(t, aerr.Extra)
}

func TestRead_UnlistedEntry(t *testing.T) {
	m, content := fixture()
	raw, err := manifest.Serialize(m)
	require.NoError(t, err)

	data := rawZip(t, map[string][]byte{
		archive.ManifestName:   raw,
		archive.EntryName("A"): content["A"],
		archive.EntryName("B"): content["B"],
		archive.EntryName("Z"): []byte("stowaway"),
	})
	_, err = archive.ReadBytes(data)
	require.Equal(t, archive.AssetMismatch, kindOf(t, err))

	var aerr *archive.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, []string{"Z"}, aerr.Extra)
}

func TestRead_ChecksumMismatch(t *testing.T) {
	m, content := fixture()
	raw, err := manifest.Serialize(m)
	require.NoError(t, err)

	tampered := bytes.ToUpper(content["A"])
	data := rawZip(t, map[string][]byte{
		archive.ManifestName:   raw,
		archive.EntryName("A"): tampered,
		archive.EntryName("B"): content["B"],
	})
	_, err = archive.ReadBytes(data)
	assert.Equal(t, archive.AssetMismatch, kindOf(t, err))
}

func TestRead_AssetIDEscapingProjectFolder(t *testing.T) {
	for name, id := range map[string]string{
		"parent traversal": "../../../../users/00000000-0000-0000-0000-000000000001/projects/x/asset",
		"nested path":      "a/b",
		"backslash":        `a\b`,
		"dot dot":          "..",
		"control":          "a\x00b",
		"blank":            "   ",
	} {
		t.Run(name, func(t *testing.T) {
			quoted, err := json.Marshal(id)
			require.NoError(t, err)
			manifestJSON := `{"version":1,"project_id":"p","asset_count":1,"total_size":1,` +
				`"assets":[{"id":` + string(quoted) + `,"filename":"f","size":1,"role":"original"}]}`
			data := rawZip(t, map[string][]byte{archive.ManifestName: []byte(manifestJSON)})

			_, err = archive.ReadBytes(data)
			assert.Equal(t, archive.ManifestParseFailed, kindOf(t, err))

			var perr *manifest.ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, manifest.Invalid, perr.Kind)
		})
	}
}
