// Package manifest describes the asset set of a project and its serialized form.
//
// A Manifest is the only piece of project state that travels inside an archive
// bundle, so both export and resume depend on Serialize and Deserialize agreeing
// with each other across versions.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// SchemaVersion is the manifest format written by Serialize.
const SchemaVersion = 1

// Role tags what an asset is relative to the user's uploads.
type Role string

const (
	RoleOriginal      Role = "original"
	RoleDerived       Role = "derived"
	RoleExtractedText Role = "extracted_text"
	RoleSummary       Role = "summary"
	RoleThumbnail     Role = "thumbnail"
	RoleDraft         Role = "draft"
)

var knownRoles = map[Role]struct{}{
	RoleOriginal:      {},
	RoleDerived:       {},
	RoleExtractedText: {},
	RoleSummary:       {},
	RoleThumbnail:     {},
	RoleDraft:         {},
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// Asset is one file belonging to a project.
type Asset struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Role        Role   `json:"role"`
	SourceID    string `json:"source_id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	// Location is resolved by the backend; clients treat it as opaque.
	Location string `json:"location,omitempty"`
}

// Manifest is the authoritative listing of a project's assets.
type Manifest struct {
	Version    int       `json:"version"`
	ProjectID  string    `json:"project_id"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	AssetCount int       `json:"asset_count"`
	TotalSize  int64     `json:"total_size"`
	Assets     []Asset   `json:"assets"`
}

// New builds a manifest at the current schema version with stats filled in.
func New(projectID, title string, assets []Asset) *Manifest {
	m := &Manifest{
		Version:   SchemaVersion,
		ProjectID: projectID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		Assets:    append([]Asset(nil), assets...),
	}
	m.AssetCount, m.TotalSize = m.Stats()
	return m
}

// Stats computes the asset count and total byte size from the asset list.
func (m *Manifest) Stats() (int, int64) {
	var total int64
	for _, a := range m.Assets {
		total += a.Size
	}
	return len(m.Assets), total
}

// Empty reports whether the manifest lists no assets.
func (m *Manifest) Empty() bool {
	return m == nil || len(m.Assets) == 0
}

// Lookup returns the asset with the given id.
func (m *Manifest) Lookup(id string) (Asset, bool) {
	for _, a := range m.Assets {
		if a.ID == id {
			return a, true
		}
	}
	return Asset{}, false
}

// IDs returns the asset identifiers in sorted order.
func (m *Manifest) IDs() []string {
	ids := make([]string, 0, len(m.Assets))
	for _, a := range m.Assets {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks the structural invariants of the asset set.
func (m *Manifest) Validate() error {
	if m.ProjectID == "" {
		return errors.New("project_id is required")
	}
	seen := make(map[string]struct{}, len(m.Assets))
	for _, a := range m.Assets {
		if err := checkID(a.ID); err != nil {
			return fmt.Errorf("asset %q: %w", a.Filename, err)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate asset id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
		if !a.Role.Valid() {
			return fmt.Errorf("asset %s has unknown role %q", a.ID, a.Role)
		}
		if a.Size < 0 {
			return fmt.Errorf("asset %s has negative size", a.ID)
		}
	}
	for _, a := range m.Assets {
		if a.SourceID == "" {
			continue
		}
		if a.SourceID == a.ID {
			return fmt.Errorf("asset %s is derived from itself", a.ID)
		}
		if _, ok := seen[a.SourceID]; !ok {
			return fmt.Errorf("asset %s references missing source %s", a.ID, a.SourceID)
		}
	}
	count, total := m.Stats()
	if m.AssetCount != count || m.TotalSize != total {
		return fmt.Errorf("stats mismatch: manifest says %d assets/%d bytes, listing has %d/%d",
			m.AssetCount, m.TotalSize, count, total)
	}
	return nil
}

// checkID rejects ids that cannot be used verbatim as a path segment. Asset ids
// become archive entry names and blob keys.
func checkID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("asset has no id")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("asset id %q is not a single path segment", id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("asset id %q contains control characters", id)
		}
	}
	return nil
}

// ParseErrorKind distinguishes why bytes could not be read as a manifest.
type ParseErrorKind string

const (
	NotManifest        ParseErrorKind = "not_manifest"
	UnsupportedVersion ParseErrorKind = "unsupported_version"
	Invalid            ParseErrorKind = "invalid"
)

// ParseError is returned by Deserialize.
type ParseError struct {
	Kind    ParseErrorKind
	Version int
	Err     error
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case UnsupportedVersion:
		return fmt.Sprintf("manifest version %d unsupported (max %d)", e.Version, SchemaVersion)
	case Invalid:
		return fmt.Sprintf("invalid manifest: %v", e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("not a manifest: %v", e.Err)
		}
		return "not a manifest"
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// Serialize encodes m as JSON. Stats are recomputed so callers cannot write an
// inconsistent header.
func Serialize(m *Manifest) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil manifest")
	}
	out := *m
	if out.Version == 0 {
		out.Version = SchemaVersion
	}
	if out.Assets == nil {
		out.Assets = []Asset{}
	}
	out.AssetCount, out.TotalSize = out.Stats()
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("failed to serialize manifest: %w", err)
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}

// probe is decoded first so a missing field can be told apart from a zero value.
type probe struct {
	Version   *int             `json:"version"`
	ProjectID *string          `json:"project_id"`
	Assets    *json.RawMessage `json:"assets"`
}

// Deserialize decodes a manifest. Failures are always *ParseError.
func Deserialize(data []byte) (*Manifest, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, &ParseError{Kind: NotManifest, Err: errors.New("expected a JSON object")}
	}

	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ParseError{Kind: NotManifest, Err: err}
	}
	if p.Version == nil || p.ProjectID == nil || p.Assets == nil {
		return nil, &ParseError{Kind: NotManifest, Err: errors.New("missing version, project_id or assets")}
	}
	if *p.Version < 1 || *p.Version > SchemaVersion {
		return nil, &ParseError{Kind: UnsupportedVersion, Version: *p.Version}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Kind: Invalid, Version: *p.Version, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &ParseError{Kind: Invalid, Version: m.Version, Err: err}
	}
	return &m, nil
}
