package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payloadbench/apiserver/config"
)

type memoryBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	ensured bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryBackend) EnsureBucket(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured = true
	return nil
}

func (m *memoryBackend) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryBackend) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(data)), ContentType: m.types[key]}, nil
}

func (m *memoryBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBackend) Bucket() string { return "memory" }

func TestPutBytesAndReadObject(t *testing.T) {
	backend := newMemoryBackend()
	s := NewStorage(backend)
	ctx := context.Background()

	require.NoError(t, s.EnsureBucket(ctx))
	assert.True(t, backend.ensured)

	body := bytes.Repeat([]byte("x"), 1024)
	require.NoError(t, s.PutBytes(ctx, "cache/body", body, "text/plain"))
	assert.Equal(t, "text/plain", backend.types["cache/body"])

	got, err := s.ReadObject(ctx, "cache/body", 0)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	got, err = s.ReadObject(ctx, "cache/body", 1024)
	require.NoError(t, err)
	assert.Len(t, got, 1024)

	_, err = s.ReadObject(ctx, "cache/body", 512)
	assert.ErrorIs(t, err, ErrObjectTooLarge)
	assert.Equal(t, "memory", s.Bucket())

	info, err := s.Stat(ctx, "cache/body")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)
}

func TestReadObjectMissing(t *testing.T) {
	s := NewStorage(newMemoryBackend())
	_, err := s.ReadObject(context.Background(), "nope", 0)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestPutBytesRequiresKey(t *testing.T) {
	s := NewStorage(newMemoryBackend())
	assert.Error(t, s.PutBytes(context.Background(), " ", []byte("a"), ""))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StorageConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(ctx, config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)

	_, err = Open(ctx, config.StorageConfig{Backend: "minio", Minio: config.MinioConfig{Endpoint: "localhost:9000"}})
	assert.Error(t, err, "credentials are required")

	s, err = Open(ctx, config.StorageConfig{
		Backend: "MinIO",
		Minio: config.MinioConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "access",
			SecretKey: "secret",
			Bucket:    "payloadbench",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "payloadbench", s.Bucket())

	_, err = Open(ctx, config.StorageConfig{Backend: "gcs"})
	assert.Error(t, err, "bucket is required")
}
