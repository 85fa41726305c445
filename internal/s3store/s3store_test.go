package s3store_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-ingest/internal/s3store"
	"studio-ingest/internal/store"
)

type fakeS3 struct {
	objects   map[string][]byte
	types     map[string]string
	deleteErr []types.Error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{Errors: f.deleteErr}, nil
}

func newFake() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	s := s3store.NewWithAPI(fake, "assets")

	require.NoError(t, s.Put(ctx, "users/u/projects/p/a1", bytes.NewReader([]byte("data")), 4, "text/plain"))
	assert.Equal(t, "text/plain", fake.types["users/u/projects/p/a1"])

	rc, err := s.Get(ctx, "users/u/projects/p/a1")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "data", string(data))

	require.NoError(t, s.Delete(ctx, "users/u/projects/p/a1"))
	_, err = s.Get(ctx, "users/u/projects/p/a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_DeleteReportsPerObjectErrors(t *testing.T) {
	fake := newFake()
	fake.deleteErr = []types.Error{{Key: aws.String("k"), Message: aws.String("AccessDenied")}}
	s := s3store.NewWithAPI(fake, "assets")

	err := s.Delete(context.Background(), "k")
	assert.ErrorContains(t, err, "AccessDenied")
	assert.NoError(t, s.Delete(context.Background()))
}

func TestStore_GetWrapsOtherErrors(t *testing.T) {
	s := s3store.NewWithAPI(failingS3{}, "assets")
	_, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := s3store.New(context.Background(), s3store.Config{Region: "us-east-1"})
	assert.Error(t, err)
}

type failingS3 struct{ s3store.API }

func (failingS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("throttled")
}
