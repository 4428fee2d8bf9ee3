package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btr-application-api/internal/common/config"
	apperrors "btr-application-api/internal/common/errors"
	"btr-application-api/internal/common/logger"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type routes map[string]gin.HandlerFunc

func (r routes) Register(g gin.IRoutes) {
	for path, h := range r {
		g.POST(path, h)
	}
}

func testConfig(origins ...string) config.ServerConfig {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return config.ServerConfig{Port: 3000, CORS: config.CORSConfig{AllowedOrigins: origins}}
}

func newTestServer(t *testing.T, cfg config.ServerConfig, ready Pinger, extra ...Registrar) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return New(cfg, logger.NewTestLogger(t), ready, extra...).Handler()
}

func do(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)

	w := do(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["time"])
}

func TestReady(t *testing.T) {
	up := newTestServer(t, testConfig(), pingFunc(func(context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, do(up, http.MethodGet, "/ready", nil).Code)

	down := newTestServer(t, testConfig(), pingFunc(func(context.Context) error { return errors.New("no db") }))
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "/ready", nil).Code)

	none := newTestServer(t, testConfig(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(none, http.MethodGet, "/ready", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)
	do(h, http.MethodGet, "/health", nil)

	w := do(h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestNotFound(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)

	w := do(h, http.MethodGet, "/api/btr-applications/list", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body apperrors.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, apperrors.MsgNotFound, body.Message)
}

func TestRecovery(t *testing.T) {
	h := newTestServer(t, testConfig(), nil, routes{
		"/boom": func(c *gin.Context) { panic("kaboom") },
	})

	w := do(h, http.MethodPost, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body apperrors.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperrors.MsgServerError, body.Message)
}

func TestRequestID(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)

	generated := do(h, http.MethodGet, "/health", nil).Header().Get(HeaderRequestID)
	assert.Len(t, generated, 36)

	echoed := do(h, http.MethodGet, "/health", map[string]string{HeaderRequestID: "abc-123"})
	assert.Equal(t, "abc-123", echoed.Header().Get(HeaderRequestID))
}

func TestCORS_AllowAll(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)

	w := do(h, http.MethodOptions, "/api/btr-applications", map[string]string{
		"Origin":                         "https://form.example.org",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "content-type",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
	assert.True(t, strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "POST"))

	simple := do(h, http.MethodGet, "/health", map[string]string{"Origin": "https://form.example.org"})
	assert.Equal(t, http.StatusOK, simple.Code)
	assert.Equal(t, "*", simple.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, simple.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	h := newTestServer(t, testConfig("https://form.example.org/"), nil)

	allowed := do(h, http.MethodGet, "/health", map[string]string{"Origin": "https://form.example.org"})
	assert.Equal(t, http.StatusOK, allowed.Code)
	assert.Equal(t, "https://form.example.org", allowed.Header().Get("Access-Control-Allow-Origin"))

	denied := do(h, http.MethodGet, "/health", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusForbidden, denied.Code)
}

func TestCORS_DisallowedPreflightIsRejected(t *testing.T) {
	h := newTestServer(t, testConfig("https://form.example.org"), nil)

	w := do(h, http.MethodOptions, "/api/btr-applications", map[string]string{
		"Origin":                        "https://evil.example.com",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

// OPTIONS without an Origin is not a CORS request and is routed normally.
func TestCORS_OptionsWithoutOriginFallsThrough(t *testing.T) {
	h := newTestServer(t, testConfig(), nil)

	w := do(h, http.MethodOptions, "/no-such-route", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
}
