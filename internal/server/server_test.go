package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payloadbench/apiserver/config"
	"github.com/payloadbench/apiserver/internal/channel"
	"github.com/payloadbench/apiserver/internal/client"
	"github.com/payloadbench/apiserver/internal/handlers"
	"github.com/payloadbench/apiserver/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		AllowedOrigins: []string{"*"},
		Dataset:        config.DatasetConfig{Size: 200, TupleModeEnabled: true},
		Channel:        config.ChannelConfig{Workers: 2},
		Cache:          config.CacheConfig{BodySize: 4096},
		Auth:           config.AuthConfig{JWTSecret: "test-secret", TokenTTLSeconds: 60},
	}
}

func startServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := Build(context.Background(), cfg, logger, Deps{Clock: func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return ts
}

func get(t *testing.T, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServerHTTPRoutes(t *testing.T) {
	ts := startServer(t, testConfig())

	resp := get(t, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/cache-demo-resource", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 4096)
	etag := resp.Header.Get("ETag")

	resp = get(t, ts.URL+"/cache-demo-resource", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp = get(t, ts.URL+"/api/subscriber-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var token handlers.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&token))
	assert.NotEmpty(t, token.Token)

	resp = get(t, ts.URL+"/runs", http.Header{"Authorization": {"Bearer " + token.Token}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "runs need a database")

	resp = get(t, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exposition, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(exposition), `payloadbench_cache_responses_total{state="not_modified"} 1`)
}

func TestServerChannel(t *testing.T) {
	ts := startServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/channel", nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 200, c.Hello().DatasetSize)
	assert.False(t, c.Supports(channel.EventRequestBroadcast), "no broker configured")

	tuples, err := c.Request(ctx, channel.EventRequestTuple)
	require.NoError(t, err)
	objects, err := c.Request(ctx, channel.EventRequestObject)
	require.NoError(t, err)

	assert.Equal(t, 200, tuples.ItemCount)
	assert.Equal(t, 200, objects.ItemCount)
	assert.Less(t, tuples.SizeBytes, objects.SizeBytes)
	for i := range tuples.Records {
		require.True(t, tuples.Records[i].Equal(objects.Records[i]), "record %d", i)
	}
}

func TestServerWithoutJWTSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = ""
	ts := startServer(t, cfg)

	resp := get(t, ts.URL+"/api/subscriber-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBuildRequiresStorageForObjectBody(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.ObjectKey = "cache/body"
	_, err := Build(context.Background(), cfg, nil, Deps{})
	assert.Error(t, err)
}

type bucket map[string][]byte

func (b bucket) EnsureBucket(context.Context) error { return nil }

func (b bucket) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	b[key] = data
	return err
}

func (b bucket) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := b[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (b bucket) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := b[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b bucket) Bucket() string { return "test" }

func TestCacheResourceFromObjectStorage(t *testing.T) {
	objects := storage.NewStorage(bucket{"cache/body": bytes.Repeat([]byte("A"), 64)})

	for _, tt := range []struct {
		name   string
		limit  int64
		status int
	}{
		{name: "within limit", limit: 1024, status: http.StatusOK},
		{name: "over limit", limit: 16, status: http.StatusInternalServerError},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Cache.ObjectKey = "cache/body"
			cfg.Cache.MaxObjectSize = tt.limit

			srv, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Deps{Storage: objects})
			require.NoError(t, err)
			ts := httptest.NewServer(srv.Router())
			t.Cleanup(func() {
				ts.Close()
				_ = srv.Shutdown(context.Background())
			})

			resp := get(t, ts.URL+"/cache-demo-resource", nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == http.StatusOK {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Len(t, body, 64)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	assert.Nil(t, checkOrigin([]string{"*"}))

	check := checkOrigin([]string{"http://localhost:3000"})
	req := httptest.NewRequest(http.MethodGet, "/channel", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://other.example")
	assert.False(t, check(req))
}
