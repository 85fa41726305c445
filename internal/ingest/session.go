package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"studio-ingest/internal/manifest"
)

// State is a step of the ingestion lifecycle.
type State string

const (
	StateIdle               State = "idle"
	StateAccepted           State = "accepted"
	StateTransferring       State = "transferring"
	StateAwaitingProcessing State = "awaiting_processing"
	StateComplete           State = "complete"
	StateFailed             State = "failed"
)

// Terminal reports whether the session can no longer change.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Reason says why a session failed.
type Reason string

const (
	ReasonCancelled  Reason = "cancelled"
	ReasonTransport  Reason = "transport"
	ReasonRejected   Reason = "rejected"
	ReasonProcessing Reason = "processing"
	ReasonTimeout    Reason = "timeout"
)

// ErrSessionFinished is returned when cancelling a session that already ended.
var ErrSessionFinished = errors.New("ingestion session already finished")

// Outcome is delivered once per session to the completion observer.
type Outcome struct {
	Succeeded bool
	Reason    Reason
	Err       error
	BatchID   string
	Assets    []manifest.Asset
}

func (o Outcome) String() string {
	if o.Succeeded {
		return "succeeded"
	}
	if o.Err != nil {
		return fmt.Sprintf("failed (%s): %v", o.Reason, o.Err)
	}
	return fmt.Sprintf("failed (%s)", o.Reason)
}

// Session is the client-side state of one batch transfer. It lives only in
// memory and is dropped from its Coordinator once it has finished and the
// completion observer has run.
//
// Observers are called with the session's notification lock held, which
// keeps callbacks ordered and guarantees nothing fires after Cancel returns.
// An observer must therefore not call Cancel on the session it is observing.
type Session struct {
	key       string
	projectID string
	fileCount int
	coord     *Coordinator
	cancel    context.CancelFunc
	done      chan struct{}

	notifyMu sync.Mutex

	mu      sync.Mutex
	state   State
	percent int
	outcome *Outcome
}

// Key identifies the session in observer callbacks.
func (s *Session) Key() string { return s.key }

// ProjectID is the project the batch is uploaded into.
func (s *Session) ProjectID() string { return s.projectID }

// FileCount is the number of files in the batch.
func (s *Session) FileCount() int { return s.fileCount }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Percent returns the last reported transfer percentage.
func (s *Session) Percent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percent
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome returns the final outcome once the session is terminal.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		o, _ := s.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel aborts the transfer. The session is Failed(cancelled) and the
// completion observer has run by the time Cancel returns.
func (s *Session) Cancel() error {
	if !s.finish(Outcome{Reason: ReasonCancelled, Err: context.Canceled}) {
		return ErrSessionFinished
	}
	s.cancel()
	return nil
}

func (s *Session) transition(to State) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	if fn := s.coord.onState; fn != nil {
		fn(s.key, to)
	}
	return true
}

func (s *Session) progress(sent, total int64) {
	pct := percentOf(sent, total)

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.state != StateTransferring || pct <= s.percent {
		s.mu.Unlock()
		return
	}
	s.percent = pct
	s.mu.Unlock()

	if fn := s.coord.onProgress; fn != nil {
		fn(s.key, pct)
	}
}

// finish moves the session to its terminal state exactly once.
func (s *Session) finish(o Outcome) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	final := StateFailed
	if o.Succeeded {
		final = StateComplete
	}
	s.state = final
	s.outcome = &o
	s.mu.Unlock()

	close(s.done)
	s.coord.forget(s.key)

	if fn := s.coord.onState; fn != nil {
		fn(s.key, final)
	}
	if fn := s.coord.onComplete; fn != nil {
		fn(s.key, o)
	}
	return true
}

func percentOf(sent, total int64) int {
	if total <= 0 {
		return 100
	}
	if sent <= 0 {
		return 0
	}
	if sent >= total {
		return 100
	}
	return int(sent * 100 / total)
}
