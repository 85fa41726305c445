// Package transport moves bytes between the client and the backend and reports
// how far along a transfer is.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// ErrCancelled is wrapped by a Failure when the caller aborted the transfer.
var ErrCancelled = errors.New("transfer cancelled")

// ProgressFunc receives the number of bytes moved so far and the expected
// total. Calls for one request never decrease sent.
type ProgressFunc func(sent, total int64)

// File is one part of a multipart upload. Open is called once, when the part
// is written.
type File struct {
	Field    string
	Name     string
	Size     int64
	Open     func() (io.ReadCloser, error)
	MimeType string
}

// FileFromPath describes a file on disk.
func FileFromPath(field, path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Field: field,
		Name:  filepath.Base(path),
		Size:  info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// Request describes one call to the backend. When Files is non-empty the body
// is multipart/form-data made of Fields and Files, and OnProgress tracks the
// upload; otherwise Body is sent as is and OnProgress tracks the response
// download.
type Request struct {
	Method      string
	Path        string
	Query       map[string]string
	Fields      map[string]string
	Files       []File
	Body        []byte
	ContentType string
	OnProgress  ProgressFunc
}

// Response is a completed 2xx exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Failure is returned for every unsuccessful Send. Either StatusCode is set
// (the server answered outside 2xx) or Err is (the exchange never completed).
type Failure struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("request failed: status %d, body: %s", f.StatusCode, string(f.Body))
	}
	return fmt.Sprintf("request failed: %v", f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Cancelled reports whether the transfer was aborted by the caller.
func (f *Failure) Cancelled() bool {
	return errors.Is(f.Err, ErrCancelled)
}

// Transport sends a request and waits for the whole response.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}
