package supabase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	storage "github.com/supabase-community/storage-go"

	"studio-ingest/internal/store"
)

// StorageClient is a store.BlobStore on a Supabase Storage bucket.
type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) (*StorageClient, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

// Put uploads the blob, overwriting any previous content under key.
func (s *StorageClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	counter := &countingReader{r: r}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, key, counter, storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	if size >= 0 && counter.n != size {
		_, _ = s.client.RemoveFile(s.bucket, []string{key})
		return fmt.Errorf("blob %s: expected %d bytes, uploaded %d", key, size, counter.n)
	}
	return nil
}

func (s *StorageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("blob %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *StorageClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, keys); err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}

// PublicURL is the URL of key when the bucket is public.
func (s *StorageClient) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key)
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not_found")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
