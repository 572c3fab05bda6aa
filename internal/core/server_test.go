package core_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"pithos/internal/backend"
	"pithos/internal/config"
	"pithos/internal/core"
	"pithos/pkg/auth"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const adminToken = "admin-token"

// NewTestServer creates a Server over a backend in a temporary data
// directory and returns it along with an httptest.Server wrapping its
// handler.
func NewTestServer(t *testing.T) (*backend.Backend, *httptest.Server) {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Metadata.Path = filepath.Join(cfg.DataDir, "pithos.db")
	cfg.Blocks.Path = filepath.Join(cfg.DataDir, "blocks")

	registry := prometheus.NewRegistry()
	b, err := config.OpenBackend(t.Context(), cfg, registry)
	require.NoError(t, err, "OpenBackend error")

	srv, err := core.NewServer(core.NewConfig(
		core.WithBackend(b),
		core.WithGatherer(registry),
		core.WithAuth(auth.NewTokenAuthEngine("admin", adminToken)),
	))
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())

	t.Cleanup(func() { _ = b.Close() })
	t.Cleanup(httpSrv.Close)

	return b, httpSrv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewServerRequiresBackend(t *testing.T) {
	t.Parallel()

	_, err := core.NewServer(core.NewConfig())
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	b, srv := NewTestServer(t)

	status, body := get(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"ok"}`, body)

	require.NoError(t, b.Close())

	status, body = get(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Contains(t, body, `"unavailable"`)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	b, srv := NewTestServer(t)

	err := b.Exec(t.Context(), func(s *backend.Session) error {
		return s.PutContainer(t.Context(), "alice", "alice", "docs", nil)
	})
	require.NoError(t, err)

	status, body := get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `pithos_sessions_total{outcome="commit"} 1`)
}

func TestReconcileWithoutQuotaholder(t *testing.T) {
	t.Parallel()

	_, srv := NewTestServer(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/reconcile", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Accepted []int64 `json:"accepted"`
		Rejected []int64 `json:"rejected"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Empty(t, result.Accepted)
	require.Empty(t, result.Rejected)

	status, _ := get(t, srv.URL+"/reconcile")
	require.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	handler := core.Recoverer(core.LogRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterWrapper(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := &core.ResponseWriterWrapper{ResponseWriter: rec}

	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, w.WrittenResponseCode)

	rec = httptest.NewRecorder()
	w = &core.ResponseWriterWrapper{ResponseWriter: rec}
	w.WriteHeader(http.StatusTeapot)
	require.Equal(t, http.StatusTeapot, w.WrittenResponseCode)
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestReconcileRequiresAuthentication(t *testing.T) {
	t.Parallel()

	b, _ := NewTestServer(t)

	srv, err := core.NewServer(core.NewConfig(
		core.WithBackend(b),
		core.WithAuth(auth.NewBasicAuthEngine("admin", "secret")),
	))
	require.NoError(t, err)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	r := httptest.NewRequest(http.MethodPost, "/reconcile", nil)
	r.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReconcileDisabledWithoutAuthentication(t *testing.T) {
	t.Parallel()

	b, _ := NewTestServer(t)

	srv, err := core.NewServer(core.NewConfig(core.WithBackend(b)))
	require.NoError(t, err)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reconcile", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
