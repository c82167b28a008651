package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/telenotify/internal/metrics"
	"github.com/loykin/telenotify/internal/session"
)

type fixedSource session.Snapshot

func (f fixedSource) Snapshot() session.Snapshot { return session.Snapshot(f) }

func setupRouter(t *testing.T, src StatusSource, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "telenotify_test_metric 1\n")
	})
	return NewRouter(src, stub, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatusReturnsSnapshot(t *testing.T) {
	code := 0
	h := setupRouter(t, fixedSource{SessionID: "s1", Name: "build", State: "running", PID: 99, Pings: 2, ExitCode: &code}, "/api/")
	rec := doReq(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "running", got["state"])
	assert.Equal(t, float64(99), got["pid"])
	assert.Equal(t, float64(2), got["pings"])
	assert.Equal(t, float64(0), got["exit_code"])
}

func TestStatusWithoutSource(t *testing.T) {
	h := setupRouter(t, nil, "")
	rec := doReq(t, h, http.MethodGet, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFromTracker(t *testing.T) {
	h := setupRouter(t, session.NewTracker(), "")
	rec := doReq(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var got session.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "idle", got.State)
	assert.Equal(t, "0s", got.Elapsed)
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, nil, "/x")
	rec := doReq(t, h, http.MethodGet, "/x/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestBasePathMounting(t *testing.T) {
	for _, base := range []string{"", "/", " api ", "/api/", "/api/v1/"} {
		want := sanitizeBase(base)
		h := setupRouter(t, nil, base)
		rec := doReq(t, h, http.MethodGet, want+"/healthz")
		assert.Equal(t, http.StatusOK, rec.Code, "base %q mounted at %q", base, want)
	}
	assert.Equal(t, "", sanitizeBase(" / "))
	assert.Equal(t, "/api/v1", sanitizeBase("/api/v1/"))
	assert.Equal(t, "/api", sanitizeBase("//api//"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, nil, "")
	rec := doReq(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "telenotify_test_metric 1")
}

func TestMetricsEndpointWithRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "telenotify_router_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := NewRouter(nil, metrics.HandlerFor(reg), "").Handler()
	rec := doReq(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "telenotify_router_test_total 1")
}

func TestUnknownRoute(t *testing.T) {
	h := setupRouter(t, nil, "")
	rec := doReq(t, h, http.MethodPost, "/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServerServesAndCloses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := NewServer("127.0.0.1:0", "", session.NewTracker(), nil)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServerBindError(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", "", nil, nil)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	_, err = NewServer(srv.Addr, "", nil, nil)
	assert.Error(t, err)
}
