// Package archive implements the project bundle format shared by export and
// resume.
//
// A bundle is a zip container holding manifest.json at its root and one entry
// per asset at assets/<asset-id>. The manifest carries its own schema version;
// the container layout itself is fixed.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"studio-ingest/internal/manifest"
)

const (
	ManifestName = "manifest.json"
	assetPrefix  = "assets/"
	// ContentType is sent with exported bundles.
	ContentType = "application/zip"
)

// ErrEmptyManifest is returned by Write when there is nothing to package.
var ErrEmptyManifest = errors.New("manifest has no assets")

// Kind classifies a bundle that could not be read.
type Kind string

const (
	CorruptArchive      Kind = "corrupt_archive"
	MissingManifest     Kind = "missing_manifest"
	ManifestParseFailed Kind = "manifest_parse_failed"
	AssetMismatch       Kind = "asset_mismatch"
)

// Error is returned by Read. Missing lists manifest assets without a matching
// entry (absent, wrong size or wrong checksum); Extra lists entries the
// manifest does not mention.
type Error struct {
	Kind    Kind
	Missing []string
	Extra   []string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case AssetMismatch:
		return fmt.Sprintf("archive assets do not match manifest (missing %v, extra %v)", e.Missing, e.Extra)
	case MissingManifest:
		return "archive has no " + ManifestName
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// EntryName returns the container path for an asset.
func EntryName(assetID string) string {
	return assetPrefix + assetID
}

// OpenFunc returns the raw bytes of one asset.
type OpenFunc func(ctx context.Context, a manifest.Asset) (io.ReadCloser, error)

// Write packages m and the bytes returned by open into w. Each asset must
// produce exactly a.Size bytes; when a.SHA256 is set the content must hash to it.
func Write(ctx context.Context, w io.Writer, m *manifest.Manifest, open OpenFunc) error {
	if m.Empty() {
		return ErrEmptyManifest
	}
	data, err := manifest.Serialize(m)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	mw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ManifestName,
		Method:   zip.Deflate,
		Modified: m.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create manifest entry: %w", err)
	}
	if _, err := mw.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest entry: %w", err)
	}

	for _, a := range m.Assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeAsset(ctx, zw, a, open); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func writeAsset(ctx context.Context, zw *zip.Writer, a manifest.Asset, open OpenFunc) error {
	rc, err := open(ctx, a)
	if err != nil {
		return fmt.Errorf("failed to open asset %s: %w", a.ID, err)
	}
	defer rc.Close()

	ew, err := zw.CreateHeader(&zip.FileHeader{
		Name:     EntryName(a.ID),
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to create entry for asset %s: %w", a.ID, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(ew, h), rc)
	if err != nil {
		return fmt.Errorf("failed to copy asset %s: %w", a.ID, err)
	}
	if n != a.Size {
		return fmt.Errorf("asset %s: wrote %d bytes, manifest says %d", a.ID, n, a.Size)
	}
	if a.SHA256 != "" && !strings.EqualFold(a.SHA256, hex.EncodeToString(h.Sum(nil))) {
		return fmt.Errorf("asset %s: checksum does not match manifest", a.ID)
	}
	return nil
}

// Bundle is a bundle that passed every structural check in Read.
type Bundle struct {
	Manifest *manifest.Manifest
	entries  map[string]*zip.File
}

// Open returns the content of one asset.
func (b *Bundle) Open(assetID string) (io.ReadCloser, error) {
	f, ok := b.entries[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s not in archive", assetID)
	}
	return f.Open()
}

// ReadBytes is Read over an in-memory archive.
func ReadBytes(data []byte) (*Bundle, error) {
	return Read(bytes.NewReader(data), int64(len(data)))
}

// Read opens a bundle and verifies it against its manifest. Failures are
// always *Error.
func Read(r io.ReaderAt, size int64) (*Bundle, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &Error{Kind: CorruptArchive, Err: err}
	}

	var manifestFile *zip.File
	entries := make(map[string]*zip.File)
	for _, f := range zr.File {
		switch {
		case f.Name == ManifestName:
			manifestFile = f
		case strings.HasPrefix(f.Name, assetPrefix) && !f.FileInfo().IsDir():
			entries[strings.TrimPrefix(f.Name, assetPrefix)] = f
		}
	}
	if manifestFile == nil {
		return nil, &Error{Kind: MissingManifest}
	}

	raw, err := readEntry(manifestFile)
	if err != nil {
		return nil, &Error{Kind: CorruptArchive, Err: err}
	}
	m, err := manifest.Deserialize(raw)
	if err != nil {
		return nil, &Error{Kind: ManifestParseFailed, Err: err}
	}

	var missing, extra []string
	listed := make(map[string]struct{}, len(m.Assets))
	for _, a := range m.Assets {
		listed[a.ID] = struct{}{}
		f, ok := entries[a.ID]
		if !ok || int64(f.UncompressedSize64) != a.Size {
			missing = append(missing, a.ID)
			continue
		}
		if a.SHA256 == "" {
			continue
		}
		sum, err := hashEntry(f)
		if err != nil {
			return nil, &Error{Kind: CorruptArchive, Err: fmt.Errorf("asset %s: %w", a.ID, err)}
		}
		if !strings.EqualFold(sum, a.SHA256) {
			missing = append(missing, a.ID)
		}
	}
	for id := range entries {
		if _, ok := listed[id]; !ok {
			extra = append(extra, id)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return nil, &Error{Kind: AssetMismatch, Missing: missing, Extra: extra}
	}

	return &Bundle{Manifest: m, entries: entries}, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func hashEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
