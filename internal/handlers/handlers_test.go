package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/payloadbench/apiserver/internal/cache"
	"github.com/payloadbench/apiserver/internal/metrics"
	"github.com/payloadbench/apiserver/internal/services"
	"github.com/payloadbench/apiserver/internal/store"
	"github.com/payloadbench/apiserver/types"
)

const testSecret = "test-secret"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheHandlerStateMachine(t *testing.T) {
	m := metrics.New()
	h := NewCacheHandler(cache.NewResource(cache.InlineBody(cache.DefaultBodySize, 'x')), m, quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache-demo-resource", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.Bytes(), cache.DefaultBodySize)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/cache-demo-resource", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Empty(t, rec.Header().Get("Content-Type"))
	assert.Equal(t, etag, rec.Header().Get("ETag"))

	req = httptest.NewRequest(http.MethodGet, "/cache-demo-resource", nil)
	req.Header.Set("If-None-Match", `"garbled"`)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.Bytes(), cache.DefaultBodySize)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheResponses.WithLabelValues("fresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheResponses.WithLabelValues("not_modified")))
}

func TestCacheHandlerSourceFailure(t *testing.T) {
	failing := cache.NewResource(func(context.Context) ([]byte, error) {
		return nil, errors.New("bucket missing")
	})
	h := NewCacheHandler(failing, metrics.New(), quietLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache-demo-resource", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("ETag"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "resource unavailable", body.Error)
}

func TestSubscriberTokenOpen(t *testing.T) {
	h := NewTokenHandler(testSecret, "", "benchmark:public:v3", time.Minute)

	rec := httptest.NewRecorder()
	h.SubscriberToken(rec, httptest.NewRequest(http.MethodGet, "/api/subscriber-token", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "benchmark:public:v3", resp.Channel)

	subject, err := parseTokenSubject(resp.Token, []byte(testSecret))
	require.NoError(t, err)
	assert.Contains(t, subject, "subscriber-")

	_, err = parseTokenSubject(resp.Token, []byte("other"))
	assert.Error(t, err)
}

func TestSubscriberTokenClientSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := NewTokenHandler(testSecret, string(hash), "", 0)

	rec := httptest.NewRecorder()
	h.SubscriberToken(rec, httptest.NewRequest(http.MethodGet, "/api/subscriber-token", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/subscriber-token", nil)
	req.Header.Set(clientSecretHeader, "wrong")
	rec = httptest.NewRecorder()
	h.SubscriberToken(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/subscriber-token", nil)
	req.Header.Set(clientSecretHeader, "s3cret")
	rec = httptest.NewRecorder()
	h.SubscriberToken(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHashClientSecret(t *testing.T) {
	_, err := HashClientSecret("  ")
	assert.Error(t, err)

	hash, err := HashClientSecret("s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

type memoryRuns struct {
	runs []types.Run
}

func (m *memoryRuns) List(_ context.Context, kind string, offset, limit int) ([]types.Run, int, error) {
	var matched []types.Run
	for _, r := range m.runs {
		if kind == "" || r.Kind == kind {
			matched = append(matched, r)
		}
	}
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]types.Run{}, matched[offset:end]...), total, nil
}

func (m *memoryRuns) Get(_ context.Context, id int64) (types.Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return types.Run{}, store.ErrNotFound
}

func (m *memoryRuns) Summary(context.Context) ([]types.RunSummary, error) {
	return nil, nil
}

func runsServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	repo := &memoryRuns{}
	for i := 1; i <= 5; i++ {
		kind := "object"
		if i%2 == 0 {
			kind = "tuple"
		}
		repo.runs = append(repo.runs, types.Run{ID: int64(i), Kind: kind})
	}

	router := chi.NewRouter()
	router.Route("/runs", func(r chi.Router) {
		RunRouter(r, services.NewRunService(repo), RequireAuth(testSecret))
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	token, err := issueToken("tester", []byte(testSecret), time.Now().Add(time.Minute))
	require.NoError(t, err)
	return srv, token
}

func getWithToken(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRunsRequireAuth(t *testing.T) {
	srv, _ := runsServer(t)
	resp := getWithToken(t, srv.URL+"/runs", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = getWithToken(t, srv.URL+"/runs", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRunsListAndGet(t *testing.T) {
	srv, token := runsServer(t)

	resp := getWithToken(t, srv.URL+"/runs?page=2&limit=2", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list RunListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, 5, list.Total)
	assert.Equal(t, 2, list.Page)
	require.Len(t, list.Items, 2)
	assert.Equal(t, int64(3), list.Items[0].ID)

	resp = getWithToken(t, srv.URL+"/runs?kind=tuple", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, 2, list.Total)

	resp = getWithToken(t, srv.URL+"/runs?kind=xml", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getWithToken(t, srv.URL+"/runs?page=0", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getWithToken(t, srv.URL+"/runs/4", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run types.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, "tuple", run.Kind)

	resp = getWithToken(t, srv.URL+"/runs/99", token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getWithToken(t, srv.URL+"/runs/summary", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summaries []types.RunSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	assert.Empty(t, summaries)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(Healthz))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "ETag", rec.Header().Get("Access-Control-Expose-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
