package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	calls       int
	hadDeadline bool
}

func (s *stubHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	s.calls++
	_, s.hadDeadline = r.Context().Deadline()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"thread_id":"t","recommendations":"ok"}`))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Port:               0,
		CORSAllowedOrigins: []string{"http://127.0.0.1:5501"},
		RateLimitRequests:  100,
		RateLimitWindow:    15 * time.Minute,
		RequestTimeout:     time.Second,
	}
}

func newTestServer(t *testing.T, opts Options, h RecommendHandler) *Server {
	t.Helper()
	s, err := New(opts, h, quietLogger())
	require.NoError(t, err)
	return s
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(testOptions(), nil, nil)
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testOptions(), &stubHandler{})
	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRecommendRoute(t *testing.T) {
	h := &stubHandler{}
	s := newTestServer(t, testOptions(), h)

	rec := do(s, httptest.NewRequest(http.MethodPost, "/recommend", strings.NewReader(`{"genre":"comedy"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, h.calls)
	require.True(t, h.hadDeadline)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(s, httptest.NewRequest(http.MethodGet, "/recommend", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, testOptions(), &stubHandler{})

	req := httptest.NewRequest(http.MethodOptions, "/recommend", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5501")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := do(s, req)
	require.Equal(t, "http://127.0.0.1:5501", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/recommend", strings.NewReader(`{"genre":"comedy"}`))
	req.Header.Set("Origin", "http://evil.example")
	rec = do(s, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitPerIP(t *testing.T) {
	opts := testOptions()
	opts.RateLimitRequests = 2
	h := &stubHandler{}
	s := newTestServer(t, opts, h)

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/recommend", strings.NewReader(`{"genre":"comedy"}`))
		req.RemoteAddr = ip + ":1234"
		return do(s, req).Code
	}
	require.Equal(t, http.StatusOK, send("192.0.2.1"))
	require.Equal(t, http.StatusOK, send("192.0.2.1"))
	require.Equal(t, http.StatusTooManyRequests, send("192.0.2.1"))
	require.Equal(t, http.StatusOK, send("192.0.2.2"))
	require.Equal(t, 3, h.calls)

	// Health checks are not limited.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	require.Equal(t, http.StatusOK, do(s, req).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testOptions(), &stubHandler{})
	rec := do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>movies</h1>"), 0o600))

	opts := testOptions()
	opts.StaticDir = dir
	s := newTestServer(t, opts, &stubHandler{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<h1>movies</h1>")
}

func TestStaticFiles_MissingDirIsSkipped(t *testing.T) {
	opts := testOptions()
	opts.StaticDir = filepath.Join(t.TempDir(), "missing")
	s := newTestServer(t, opts, &stubHandler{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTimeoutMiddleware_ZeroDisables(t *testing.T) {
	var hadDeadline bool
	h := TimeoutMiddleware(0)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, hadDeadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, hadDeadline)
}
