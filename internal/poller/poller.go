// Package poller waits for server-side work to reach a terminal status by
// querying a status endpoint at a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"studio-ingest/internal/manifest"
)

// Status is the server-reported state of a long-running operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition will happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("status polling timed out")
	// ErrInvalidInput is returned before any request when arguments are unusable.
	ErrInvalidInput = errors.New("invalid poll parameters")
)

// Report is one answer from the status endpoint.
type Report struct {
	ResourceID string           `json:"batch_id"`
	Status     Status           `json:"status"`
	Error      string           `json:"error,omitempty"`
	Assets     []manifest.Asset `json:"assets,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Fetcher queries the current status of a resource.
type Fetcher interface {
	FetchStatus(ctx context.Context, resourceID string) (*Report, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, resourceID string) (*Report, error)

func (f FetcherFunc) FetchStatus(ctx context.Context, resourceID string) (*Report, error) {
	return f(ctx, resourceID)
}

// TimeoutError is returned when maxAttempts polls saw no terminal status.
type TimeoutError struct {
	ResourceID string
	Attempts   int
	LastStatus Status
	LastErr    error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("resource %s not terminal after %d attempts", e.ResourceID, e.Attempts)
	if e.LastStatus != "" {
		msg += fmt.Sprintf(" (last status %s)", e.LastStatus)
	}
	if e.LastErr != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.LastErr)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Poller runs the fixed-interval polling loop.
type Poller struct {
	fetcher Fetcher
	logger  *slog.Logger
	wait    func(ctx context.Context, d time.Duration) error
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithWaiter replaces the interval wait, mainly so tests do not sleep.
func WithWaiter(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) { p.wait = wait }
}

// New creates a Poller over fetcher.
func New(fetcher Fetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher: fetcher,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		wait:    sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollUntilTerminal polls resourceID until it reports completed or failed, or
// until maxAttempts polls have been made. The first poll happens immediately.
// Fetch errors use up an attempt but never end the loop on their own.
func (p *Poller) PollUntilTerminal(ctx context.Context, resourceID string, interval time.Duration, maxAttempts int) (*Report, error) {
	if resourceID == "" || maxAttempts <= 0 || interval < 0 {
		return nil, ErrInvalidInput
	}

	timeout := &TimeoutError{ResourceID: resourceID}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.wait(ctx, interval); err != nil {
				return nil, err
			}
		}
		timeout.Attempts = attempt

		report, err := p.fetcher.FetchStatus(ctx, resourceID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			p.logger.Warn("status poll failed", "resource_id", resourceID, "attempt", attempt, "error", err)
			timeout.LastErr = err
			continue
		}
		timeout.LastErr = nil
		timeout.LastStatus = report.Status
		if report.Status.Terminal() {
			p.logger.Debug("status terminal", "resource_id", resourceID, "attempt", attempt, "status", report.Status)
			return report, nil
		}
	}
	return nil, timeout
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
