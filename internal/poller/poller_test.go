package poller_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"studio-ingest/internal/poller"
)

func noWait(context.Context, time.Duration) error { return nil }

type scripted struct {
	calls   int
	replies []func() (*poller.Report, error)
}

func (s *scripted) FetchStatus(_ context.Context, id string) (*poller.Report, error) {
	i := s.calls
	s.calls++
	if i >= len(s.replies) {
		return &poller.Report{ResourceID: id, Status: poller.StatusProcessing}, nil
	}
	return s.replies[i]()
}

func status(st poller.Status) func() (*poller.Report, error) {
	return func() (*poller.Report, error) { return &poller.Report{ResourceID: "b1", Status: st}, nil }
}

func failing() (*poller.Report, error) { return nil, errors.New("connection reset") }

func TestPollUntilTerminal_StopsOnCompleted(t *testing.T) {
	f := &scripted{replies: []func() (*poller.Report, error){
		status(poller.StatusPending), status(poller.StatusProcessing), status(poller.StatusCompleted),
	}}
	p := poller.New(f, poller.WithWaiter(noWait))

	report, err := p.PollUntilTerminal(context.Background(), "b1", time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, poller.StatusCompleted, report.Status)
	assert.Equal(t, 3, f.calls)
}

func TestPollUntilTerminal_FailedIsTerminal(t *testing.T) {
	f := &scripted{replies: []func() (*poller.Report, error){status(poller.StatusFailed)}}
	p := poller.New(f, poller.WithWaiter(noWait))

	report, err := p.PollUntilTerminal(context.Background(), "b1", time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, poller.StatusFailed, report.Status)
	assert.Equal(t, 1, f.calls)
}

func TestPollUntilTerminal_TimeoutAfterExactlyMaxAttempts(t *testing.T) {
	for _, attempts := range []int{1, 3, 7} {
		f := &scripted{}
		waits := 0
		p := poller.New(f, poller.WithWaiter(func(context.Context, time.Duration) error {
			waits++
			return nil
		}))

		_, err := p.PollUntilTerminal(context.Background(), "b1", 10*time.Millisecond, attempts)
		assert.ErrorIs(t, err, poller.ErrTimeout)
		assert.Equal(t, attempts, f.calls)
		assert.Equal(t, attempts-1, waits)

		var terr *poller.TimeoutError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, attempts, terr.Attempts)
		assert.Equal(t, poller.StatusProcessing, terr.LastStatus)
	}
}

func TestPollUntilTerminal_FetchErrorsCountButDoNotStop(t *testing.T) {
	f := &scripted{replies: []func() (*poller.Report, error){
		failing, failing, status(poller.StatusCompleted),
	}}
	p := poller.New(f, poller.WithWaiter(noWait))

	report, err := p.PollUntilTerminal(context.Background(), "b1", time.Second, 3)
	require.NoError(t, err)
	assert.Equal(t, poller.StatusCompleted, report.Status)

	f = &scripted{replies: []func() (*poller.Report, error){failing, failing, failing, status(poller.StatusCompleted)}}
	p = poller.New(f, poller.WithWaiter(noWait))
	_, err = p.PollUntilTerminal(context.Background(), "b1", time.Second, 3)
	assert.ErrorIs(t, err, poller.ErrTimeout)
	assert.Equal(t, 3, f.calls)
}

func TestPollUntilTerminal_UnknownStatusIsNotTerminal(t *testing.T) {
	f := &scripted{replies: []func() (*poller.Report, error){
		status("queued"), status(poller.StatusCompleted),
	}}
	p := poller.New(f, poller.WithWaiter(noWait))

	_, err := p.PollUntilTerminal(context.Background(), "b1", time.Second, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}

func TestPollUntilTerminal_InvalidInput(t *testing.T) {
	p := poller.New(&scripted{})
	_, err := p.PollUntilTerminal(context.Background(), "b1", time.Second, 0)
	assert.ErrorIs(t, err, poller.ErrInvalidInput)
	_, err = p.PollUntilTerminal(context.Background(), "", time.Second, 3)
	assert.ErrorIs(t, err, poller.ErrInvalidInput)
}

func TestPollUntilTerminal_ContextCancelled(t *testing.T) {
	f := &scripted{}
	p := poller.New(f)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.PollUntilTerminal(ctx, "b1", time.Hour, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.calls)
}
