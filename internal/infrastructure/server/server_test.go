package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aamira/courier-tracker/internal/api/middleware"
	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/aamira/courier-tracker/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, fake *testutil.FakeDirectory) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Directory.BaseURL = fake.URL()
	cfg.Directory.Token = "tok"
	cfg.Directory.Timeout = 5 * time.Second
	cfg.Live.Transport = "off"
	cfg.RateLimit.Enabled = false
	cfg.Logging.Development = true
	return cfg
}

func TestNewServerMountsSavedViews(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	fake.RequireToken("tok")
	fake.Seed(
		testutil.Package("PKG1", types.StatusException, 1),
		testutil.Package("PKG2", types.StatusDelivered, 1),
	)

	path := filepath.Join(t.TempDir(), "views.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
views:
  - name: exceptions
    query:
      status: stuck
`), 0o600))

	cfg := testConfig(t, fake)
	cfg.Sync.ViewsFile = path

	srv, err := NewServer(context.Background(), cfg, WithLogger(logging.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	require.Equal(t, 1, srv.Sessions().Count())

	req := httptest.NewRequest(http.MethodGet, "/api/views", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"exceptions"`)
	assert.Contains(t, w.Body.String(), `"rows":1`)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	assert.NotEmpty(t, w.Header().Get(middleware.SessionHeader))
}

func TestNewServerWithoutToken(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	cfg := testConfig(t, fake)
	cfg.Directory.Token = ""

	srv, err := NewServer(context.Background(), cfg, WithLogger(logging.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	assert.Zero(t, srv.Sessions().Count())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/live", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"token":"abc"}`)))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, srv.Sessions().Count())
}

func TestNewServerBadViewsFile(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	cfg := testConfig(t, fake)
	cfg.Sync.ViewsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewServer(context.Background(), cfg, WithLogger(logging.Nop()))
	assert.Error(t, err)
}

func TestCloseClosesSessions(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	srv, err := NewServer(context.Background(), testConfig(t, fake), WithLogger(logging.Nop()))
	require.NoError(t, err)

	s := srv.Sessions().List()[0]
	require.NoError(t, srv.Close())
	assert.True(t, s.Closed())
	assert.Zero(t, srv.Sessions().Count())
}

func TestRateLimitApplied(t *testing.T) {
	fake := testutil.NewFakeDirectory(t)
	cfg := testConfig(t, fake)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.Burst = 1

	srv, err := NewServer(context.Background(), cfg, WithLogger(logging.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		srv.Handler().ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
