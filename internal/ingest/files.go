package ingest

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"studio-ingest/internal/transport"
)

// UploadField is the multipart field batch files are sent under.
const UploadField = "files"

// CollectFiles turns the given paths into upload parts. Directories are
// walked recursively and hidden entries inside them are skipped. A file named
// twice is only sent once.
func CollectFiles(paths ...string) ([]transport.File, error) {
	seen := make(map[string]bool)
	var out []transport.File

	add := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		if seen[abs] {
			return nil
		}
		seen[abs] = true
		f, err := transport.FileFromPath(UploadField, abs)
		if err != nil {
			return err
		}
		f.MimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(abs)))
		out = append(out, f)
		return nil
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			if err := add(p); err != nil {
				return nil, err
			}
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != p && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
		sort.Strings(found)
		for _, path := range found {
			if err := add(path); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// TotalSize sums the sizes of files.
func TotalSize(files []transport.File) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}
