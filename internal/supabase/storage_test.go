package supabase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-ingest/internal/store"
)

// fakeStorage serves the subset of the Storage REST API used by StorageClient.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes int
}

func (f *fakeStorage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/storage/v1/object/"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	path = strings.TrimPrefix(path, "authenticated/")
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[path] = data
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Key":"` + path + `"}`))
	case http.MethodGet:
		data, ok := f.objects[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"statusCode":"404","error":"not_found","message":"Object not found"}`))
			return
		}
		_, _ = w.Write(data)
	case http.MethodDelete:
		f.deletes++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}
}

func TestStorageClient_PutGet(t *testing.T) {
	fake := &fakeStorage{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewStorageClient(srv.URL+"/", "service-key", "assets")
	require.NoError(t, err)

	key := store.BlobKey(uuid.New(), uuid.New(), "a1")
	require.NoError(t, s.Put(context.Background(), key, bytes.NewReader([]byte("hello")), 5, "text/plain"))

	fake.mu.Lock()
	assert.Equal(t, []byte("hello"), fake.objects["assets/"+key])
	fake.mu.Unlock()

	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, s.Delete(context.Background(), key))
	assert.Equal(t, 1, fake.deletes)
	require.NoError(t, s.Delete(context.Background()))
	assert.Equal(t, 1, fake.deletes)
}

func TestStorageClient_PutSizeMismatch(t *testing.T) {
	fake := &fakeStorage{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewStorageClient(srv.URL, "service-key", "assets")
	require.NoError(t, err)

	err = s.Put(context.Background(), "k", bytes.NewReader([]byte("abc")), 10, "")
	assert.ErrorContains(t, err, "expected 10 bytes")
	assert.Equal(t, 1, fake.deletes)
}

func TestStorageClient_RequiresBucket(t *testing.T) {
	_, err := NewStorageClient("http://localhost", "k", "")
	assert.Error(t, err)
}

func TestStorageClient_PublicURL(t *testing.T) {
	s, err := NewStorageClient("https://abc.supabase.co/", "k", "assets")
	require.NoError(t, err)
	assert.Equal(t, "https://abc.supabase.co/storage/v1/object/public/assets/users/x", s.PublicURL("users/x"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(errors.New("Object not found")))
	assert.True(t, isNotFound(errors.New(`{"error":"not_found"}`)))
	assert.False(t, isNotFound(errors.New("connection refused")))
}
