// Package ingest drives bulk uploads of asset batches from the client side:
// it streams the files, reports progress, waits for server processing and
// delivers exactly one outcome per batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio-ingest/internal/manifest"
	"studio-ingest/internal/poller"
	"studio-ingest/internal/transport"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 90
	DefaultGraceInterval   = 5 * time.Second
)

// ErrInvalidInput is returned by BeginIngestion when there is nothing to send.
var ErrInvalidInput = errors.New("invalid ingestion request")

// Receipt is the server's acknowledgement of an uploaded batch.
type Receipt struct {
	BatchID   string
	ProjectID string
	Status    poller.Status
	Assets    []manifest.Asset
}

// Uploader transfers a batch to the backend.
type Uploader interface {
	Upload(ctx context.Context, projectID string, files []transport.File, onProgress transport.ProgressFunc) (*Receipt, error)
}

// StatusPoller waits for a batch to finish server-side processing.
type StatusPoller interface {
	PollUntilTerminal(ctx context.Context, resourceID string, interval time.Duration, maxAttempts int) (*poller.Report, error)
}

type (
	ProgressObserver   func(key string, percent int)
	CompletionObserver func(key string, outcome Outcome)
	StateObserver      func(key string, state State)
)

// Coordinator starts ingestion sessions and tracks the ones still running.
type Coordinator struct {
	uploader Uploader
	poller   StatusPoller
	logger   *slog.Logger

	onProgress ProgressObserver
	onComplete CompletionObserver
	onState    StateObserver

	pollInterval time.Duration
	maxAttempts  int
	grace        time.Duration
	wait         func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithProgressObserver(fn ProgressObserver) Option {
	return func(c *Coordinator) { c.onProgress = fn }
}

func WithCompletionObserver(fn CompletionObserver) Option {
	return func(c *Coordinator) { c.onComplete = fn }
}

func WithStateObserver(fn StateObserver) Option {
	return func(c *Coordinator) { c.onState = fn }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

func WithMaxPollAttempts(n int) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithGraceInterval sets how long to wait before declaring success when the
// server returned no batch id to poll.
func WithGraceInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.grace = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a Coordinator. poller may be nil, in which case every
// transferred batch goes through the grace interval instead of being polled.
func NewCoordinator(uploader Uploader, statusPoller StatusPoller, opts ...Option) *Coordinator {
	c := &Coordinator{
		uploader:     uploader,
		poller:       statusPoller,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxPollAttempts,
		grace:        DefaultGraceInterval,
		wait:         sleep,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginIngestion validates the batch and starts transferring it in the
// background. The returned session is already Accepted.
func (c *Coordinator) BeginIngestion(ctx context.Context, projectID string, files []transport.File) (*Session, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files selected", ErrInvalidInput)
	}
	for _, f := range files {
		if f.Name == "" || f.Open == nil {
			return nil, fmt.Errorf("%w: file %q cannot be read", ErrInvalidInput, f.Name)
		}
		if f.Size < 0 {
			return nil, fmt.Errorf("%w: file %q has negative size", ErrInvalidInput, f.Name)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		key:       uuid.NewString(),
		projectID: projectID,
		fileCount: len(files),
		coord:     c,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
	}

	c.mu.Lock()
	c.sessions[s.key] = s
	c.mu.Unlock()

	s.transition(StateAccepted)
	c.logger.Info("ingestion accepted", "session", s.key, "project_id", projectID, "files", len(files))

	go c.run(runCtx, s, files)
	return s, nil
}

// Lookup returns a running session.
func (c *Coordinator) Lookup(key string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	return s, ok
}

// Active returns the number of sessions that have not finished.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Cancel cancels the session with the given key.
func (c *Coordinator) Cancel(key string) error {
	s, ok := c.Lookup(key)
	if !ok {
		return ErrSessionFinished
	}
	return s.Cancel()
}

func (c *Coordinator) forget(key string) {
	c.mu.Lock()
	delete(c.sessions, key)
	c.mu.Unlock()
}

func (c *Coordinator) run(ctx context.Context, s *Session, files []transport.File) {
	defer s.cancel()

	if !s.transition(StateTransferring) {
		return
	}
	receipt, err := c.uploader.Upload(ctx, s.projectID, files, s.progress)
	if err != nil {
		reason := classify(ctx, err)
		c.logger.Warn("ingestion transfer failed", "session", s.key, "reason", reason, "error", err)
		s.finish(Outcome{Reason: reason, Err: err})
		return
	}
	// Batches whose files are all empty never produce a byte of progress.
	s.progress(1, 1)

	if !s.transition(StateAwaitingProcessing) {
		return
	}
	c.logger.Info("ingestion transferred", "session", s.key, "batch_id", receipt.BatchID, "status", receipt.Status)

	switch receipt.Status {
	case poller.StatusCompleted:
		s.finish(Outcome{Succeeded: true, BatchID: receipt.BatchID, Assets: receipt.Assets})
		return
	case poller.StatusFailed:
		s.finish(Outcome{Reason: ReasonProcessing, BatchID: receipt.BatchID, Err: errors.New("batch rejected during processing")})
		return
	}

	if receipt.BatchID == "" || c.poller == nil {
		c.awaitGrace(ctx, s, receipt)
		return
	}

	report, err := c.poller.PollUntilTerminal(ctx, receipt.BatchID, c.pollInterval, c.maxAttempts)
	switch {
	case err == nil && report.Status == poller.StatusCompleted:
		s.finish(Outcome{Succeeded: true, BatchID: receipt.BatchID, Assets: report.Assets})
	case err == nil:
		msg := report.Error
		if msg == "" {
			msg = "processing failed"
		}
		s.finish(Outcome{Reason: ReasonProcessing, BatchID: receipt.BatchID, Err: errors.New(msg)})
	case errors.Is(err, poller.ErrTimeout):
		c.logger.Warn("ingestion processing timed out", "session", s.key, "batch_id", receipt.BatchID, "error", err)
		s.finish(Outcome{Reason: ReasonTimeout, BatchID: receipt.BatchID, Err: err})
	case ctx.Err() != nil:
		s.finish(Outcome{Reason: ReasonCancelled, BatchID: receipt.BatchID, Err: ctx.Err()})
	default:
		s.finish(Outcome{Reason: ReasonTransport, BatchID: receipt.BatchID, Err: err})
	}
}

func (c *Coordinator) awaitGrace(ctx context.Context, s *Session, receipt *Receipt) {
	c.logger.Warn("no batch to poll, assuming completion after grace interval",
		"session", s.key, "grace", c.grace)
	if err := c.wait(ctx, c.grace); err != nil {
		s.finish(Outcome{Reason: ReasonCancelled, BatchID: receipt.BatchID, Err: err})
		return
	}
	s.finish(Outcome{Succeeded: true, BatchID: receipt.BatchID, Assets: receipt.Assets})
}

func classify(ctx context.Context, err error) Reason {
	var f *transport.Failure
	switch {
	case errors.Is(err, transport.ErrCancelled), errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.As(err, &f) && f.StatusCode != 0:
		return ReasonRejected
	case ctx.Err() != nil:
		return ReasonCancelled
	default:
		return ReasonTransport
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
