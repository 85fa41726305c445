package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HTTPTransport sends requests to a backend rooted at baseURL.
type HTTPTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport. A zero timeout leaves transfers
// unbounded; bulk uploads rely on context cancellation instead.
func NewHTTPTransport(baseURL, token string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send performs the request and reads the whole response body.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	endpoint := t.baseURL + req.Path
	if len(req.Query) > 0 {
		params := url.Values{}
		for k, v := range req.Query {
			params.Set(k, v)
		}
		endpoint += "?" + params.Encode()
	}

	var (
		body        io.Reader
		pipeReader  *io.PipeReader
		contentType string
	)
	// No progress is reported once Send has returned.
	var upload *tracker
	defer func() { upload.stop() }()
	if len(req.Files) > 0 {
		var total int64
		for _, f := range req.Files {
			total += f.Size
		}
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		contentType = mw.FormDataContentType()
		upload = &tracker{ctx: ctx, total: total, fn: req.OnProgress}
		go func() {
			pw.CloseWithError(writeMultipart(mw, req.Fields, req.Files, upload))
		}()
		body, pipeReader = pr, pr
	} else if req.Body != nil {
		body, contentType = bytes.NewReader(req.Body), req.ContentType
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, &Failure{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(httpReq)
	if pipeReader != nil {
		// Unblocks the multipart writer if the server answered early.
		defer pipeReader.Close()
	}
	if err != nil {
		return nil, failure(ctx, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	var download *tracker
	if len(req.Files) == 0 && req.OnProgress != nil {
		download = &tracker{ctx: ctx, total: resp.ContentLength, fn: req.OnProgress}
		defer download.stop()
		reader = &progressReader{r: resp.Body, tr: download}
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, failure(ctx, fmt.Errorf("failed to read response body: %w", err))
	}
	if download != nil {
		download.settle()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Failure{StatusCode: resp.StatusCode, Body: data}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func failure(ctx context.Context, err error) *Failure {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return &Failure{Err: fmt.Errorf("%w: %w", ErrCancelled, ctxErr)}
		}
		return &Failure{Err: ctxErr}
	}
	return &Failure{Err: err}
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, files []File, tr *tracker) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		if err := writePart(mw, f, tr); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, f File, tr *tracker) error {
	field := f.Field
	if field == "" {
		field = "files"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(field), escapeQuotes(f.Name)))
	if f.MimeType != "" {
		h.Set("Content-Type", f.MimeType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create part for %s: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer src.Close()

	n, err := io.Copy(part, &progressReader{r: src, tr: tr})
	if err != nil {
		return fmt.Errorf("failed to stream %s: %w", f.Name, err)
	}
	if n != f.Size {
		return fmt.Errorf("%s changed size during upload: expected %d bytes, read %d", f.Name, f.Size, n)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// tracker accumulates transferred bytes for one request. The callback runs
// under mu, so once stop returns no further callback is in flight.
type tracker struct {
	ctx   context.Context
	fn    ProgressFunc
	mu    sync.Mutex
	total int64
	sent  int64
	done  bool
}

func (t *tracker) add(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent += int64(n)
	t.report()
}

// settle fixes an unknown total to the bytes actually read and reports it.
func (t *tracker) settle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total >= 0 {
		return
	}
	t.total = t.sent
	t.report()
}

// stop silences the tracker. It is safe on a nil tracker.
func (t *tracker) stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

// report must be called with mu held.
func (t *tracker) report() {
	if t.done || t.fn == nil || t.ctx.Err() != nil {
		return
	}
	t.fn(t.sent, t.total)
}

type progressReader struct {
	r  io.Reader
	tr *tracker
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.tr.add(n)
	return n, err
}
