package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-ingest/internal/ingest"
	"studio-ingest/internal/manifest"
	"studio-ingest/internal/poller"
	"studio-ingest/internal/transport"
)

type fakeUploader struct {
	steps   [][2]int64
	receipt *ingest.Receipt
	err     error
	block   bool
	started chan struct{}
}

func (u *fakeUploader) Upload(ctx context.Context, projectID string, files []transport.File, onProgress transport.ProgressFunc) (*ingest.Receipt, error) {
	for _, s := range u.steps {
		onProgress(s[0], s[1])
	}
	if u.started != nil {
		close(u.started)
	}
	if u.block {
		<-ctx.Done()
		onProgress(100, 100)
		return nil, &transport.Failure{Err: fmt.Errorf("%w: %w", transport.ErrCancelled, ctx.Err())}
	}
	return u.receipt, u.err
}

type recorder struct {
	mu       sync.Mutex
	progress []int
	states   []ingest.State
	outcomes []ingest.Outcome
}

func (r *recorder) options() []ingest.Option {
	return []ingest.Option{
		ingest.WithProgressObserver(func(_ string, pct int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, pct)
		}),
		ingest.WithStateObserver(func(_ string, st ingest.State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, st)
		}),
		ingest.WithCompletionObserver(func(_ string, o ingest.Outcome) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.outcomes = append(r.outcomes, o)
		}),
	}
}

func (r *recorder) snapshot() ([]int, []ingest.State, []ingest.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...),
		append([]ingest.State(nil), r.states...),
		append([]ingest.Outcome(nil), r.outcomes...)
}

func statusPoller(statuses ...poller.Status) *poller.Poller {
	i := 0
	var mu sync.Mutex
	fetch := poller.FetcherFunc(func(_ context.Context, id string) (*poller.Report, error) {
		mu.Lock()
		defer mu.Unlock()
		st := poller.StatusProcessing
		if i < len(statuses) {
			st = statuses[i]
		}
		i++
		r := &poller.Report{ResourceID: id, Status: st}
		if st == poller.StatusFailed {
			r.Error = "unsupported media"
		}
		if st == poller.StatusCompleted {
			r.Assets = []manifest.Asset{{ID: "a1", Filename: "notes.txt", Size: 5, Role: manifest.RoleOriginal}}
		}
		return r, nil
	})
	return poller.New(fetch, poller.WithWaiter(func(context.Context, time.Duration) error { return nil }))
}

func file(name string, data []byte) transport.File {
	return transport.File{
		Field: ingest.UploadField,
		Name:  name,
		Size:  int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func wait(t *testing.T, s *ingest.Session) ingest.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := s.Wait(ctx)
	require.NoError(t, err, "session did not finish")
	return o
}

func TestBeginIngestion_InvalidInput(t *testing.T) {
	c := ingest.NewCoordinator(&fakeUploader{}, nil)

	_, err := c.BeginIngestion(context.Background(), "p1", nil)
	assert.ErrorIs(t, err, ingest.ErrInvalidInput)

	_, err = c.BeginIngestion(context.Background(), "", []transport.File{file("a.txt", []byte("a"))})
	assert.ErrorIs(t, err, ingest.ErrInvalidInput)

	_, err = c.BeginIngestion(context.Background(), "p1", []transport.File{{Name: "x"}})
	assert.ErrorIs(t, err, ingest.ErrInvalidInput)
	assert.Zero(t, c.Active())
}

func TestIngestion_SucceedsAfterPolling(t *testing.T) {
	rec := &recorder{}
	up := &fakeUploader{
		steps:   [][2]int64{{10, 100}, {10, 100}, {40, 100}, {35, 100}, {100, 100}},
		receipt: &ingest.Receipt{BatchID: "b1", ProjectID: "p1", Status: poller.StatusProcessing},
	}
	c := ingest.NewCoordinator(up, statusPoller(poller.StatusPending, poller.StatusCompleted), rec.options()...)

	s, err := c.BeginIngestion(context.Background(), "p1", []transport.File{file("notes.txt", []byte("hello"))})
	require.NoError(t, err)
	o := wait(t, s)

	assert.True(t, o.Succeeded)
	assert.Equal(t, "b1", o.BatchID)
	require.Len(t, o.Assets, 1)

	progress, states, outcomes := rec.snapshot()
	assert.Equal(t, []int{10, 40, 100}, progress)
	assert.Equal(t, []ingest.State{
		ingest.StateAccepted, ingest.StateTransferring, ingest.StateAwaitingProcessing, ingest.StateComplete,
	}, states)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, ingest.StateComplete, s.State())
	assert.Equal(t, 100, s.Percent())
	assert.Zero(t, c.Active())
}

func TestIngestion_EmptyFilesStillReachFullProgress(t *testing.T) {
	rec := &recorder{}
	up := &fakeUploader{receipt: &ingest.Receipt{BatchID: "b1", Status: poller.StatusCompleted}}
	c := ingest.NewCoordinator(up, nil, rec.options()...)

	s, err := c.BeginIngestion(context.Background(), "p1", []transport.File{file("empty.txt", nil)})
	require.NoError(t, err)
	o := wait(t, s)

	assert.True(t, o.Succeeded)
	progress, _, _ := rec.snapshot()
	assert.Equal(t, []int{100}, progress)
}

func TestIngestion_FailureReasons(t *testing.T) {
	tests := []struct {
		name   string
		up     *fakeUploader
		poll   ingest.StatusPoller
		reason ingest.Reason
	}{
		{
			name:   "server rejects the batch",
			up:     &fakeUploader{err: &transport.Failure{StatusCode: 400, Body: []byte(`{"error":"bad"}`)}},
			reason: ingest.ReasonRejected,
		},
		{
			name:   "network failure",
			up:     &fakeUploader{err: &transport.Failure{Err: errors.New("connection refused")}},
			reason: ingest.ReasonTransport,
		},
		{
			name:   "processing fails",
			up:     &fakeUploader{receipt: &ingest.Receipt{BatchID: "b1", Status: poller.StatusPending}},
			poll:   statusPoller(poller.StatusProcessing, poller.StatusFailed),
			reason: ingest.ReasonProcessing,
		},
		{
			name:   "batch rejected on receipt",
			up:     &fakeUploader{receipt: &ingest.Receipt{BatchID: "b1", Status: poller.StatusFailed}},
			reason: ingest.ReasonProcessing,
		},
		{
			name:   "processing never finishes",
			up:     &fakeUploader{receipt: &ingest.Receipt{BatchID: "b1", Status: poller.StatusPending}},
			poll:   statusPoller(),
			reason: ingest.ReasonTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			opts := append(rec.options(), ingest.WithMaxPollAttempts(3))
			c := ingest.NewCoordinator(tt.up, tt.poll, opts...)

			s, err := c.BeginIngestion(context.Background(), "p1", []transport.File{file("a.txt", []byte("abc"))})
			require.NoError(t, err)
			o := wait(t, s)

			assert.False(t, o.Succeeded)
			assert.Equal(t, tt.reason, o.Reason)
			assert.Error(t, o.Err)
			assert.Equal(t, ingest.StateFailed, s.State())

			_, _, outcomes := rec.snapshot()
			assert.Len(t, outcomes, 1)
		})
	}
}

func TestIngestion_GraceIntervalWithoutBatchID(t *testing.T) {
	up := &fakeUploader{receipt: &ingest.Receipt{Status: poller.StatusPending}}
	c := ingest.NewCoordinator(up, statusPoller(), ingest.WithGraceInterval(time.Millisecond))

	s, err := c.BeginIngestion(context.Background(), "p1", []transport.File{file("a.txt", []byte("abc"))})
	require.NoError(t, err)
	o := wait(t, s)
	assert.True(t, o.Succeeded)
}

func TestIngestion_CancelIsSynchronousAndFinal(t *testing.T) {
	rec := &recorder{}
	up := &fakeUploader{
		steps:   [][2]int64{{30, 100}},
		block:   true,
		started: make(chan struct{}),
	}
	c := ingest.NewCoordinator(up, nil, rec.options()...)

	s, err := c.BeginIngestion(context.Background(), "p1", []transport.File{file("a.txt", []byte("abc"))})
	require.NoError(t, err)
	<-up.started

	require.NoError(t, c.Cancel(s.Key()))

	assert.Equal(t, ingest.StateFailed, s.State())
	o, ok := s.Outcome()
	require.True(t, ok)
	assert.Equal(t, ingest.ReasonCancelled, o.Reason)

	_, _, outcomes := rec.snapshot()
	require.Len(t, outcomes, 1, "completion must have fired before Cancel returned")

	// The uploader still reports progress and an error after the cancel.
	time.Sleep(50 * time.Millisecond)
	progress, states, outcomes := rec.snapshot()
	assert.Equal(t, []int{30}, progress)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, ingest.StateFailed, states[len(states)-1])

	assert.ErrorIs(t, s.Cancel(), ingest.ErrSessionFinished)
	assert.ErrorIs(t, c.Cancel(s.Key()), ingest.ErrSessionFinished)
	assert.Zero(t, c.Active())
}

func TestIngestion_ParentContextCancel(t *testing.T) {
	up := &fakeUploader{block: true, started: make(chan struct{})}
	c := ingest.NewCoordinator(up, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.BeginIngestion(ctx, "p1", []transport.File{file("a.txt", []byte("abc"))})
	require.NoError(t, err)
	<-up.started
	cancel()

	o := wait(t, s)
	assert.Equal(t, ingest.ReasonCancelled, o.Reason)
}

func TestIngestion_LookupWhileRunning(t *testing.T) {
	up := &fakeUploader{block: true, started: make(chan struct{})}
	c := ingest.NewCoordinator(up, nil)

	s, err := c.BeginIngestion(context.Background(), "p1", []transport.File{file("a.txt", []byte("abc"))})
	require.NoError(t, err)
	<-up.started

	got, ok := c.Lookup(s.Key())
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, c.Active())
	assert.Equal(t, 1, s.FileCount())
	assert.Equal(t, "p1", s.ProjectID())

	require.NoError(t, s.Cancel())
	_, ok = c.Lookup(s.Key())
	assert.False(t, ok)
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".cache"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.pdf"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cache", "c.txt"), []byte("x"), 0o644))

	files, err := ingest.CollectFiles(dir, filepath.Join(dir, "b.txt"))
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
		assert.Equal(t, ingest.UploadField, f.Field)
	}
	assert.Equal(t, []string{"b.txt", "a.pdf"}, names)
	assert.Equal(t, int64(5), ingest.TotalSize(files))
	assert.Equal(t, "application/pdf", files[1].MimeType)

	_, err = ingest.CollectFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
