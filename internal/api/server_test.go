package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pranadao/prana-ticker/internal/ticker"
)

type fakeSnapshotter struct {
	snapshot ticker.Snapshot
}

func (f *fakeSnapshotter) State() ticker.Snapshot { return f.snapshot }

type fakeReadiness struct {
	ready bool
}

func (f *fakeReadiness) Ready() bool { return f.ready }

func doRequest(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeSnapshotter{}, &fakeReadiness{}, zap.NewNop())
	rec := doRequest(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzTracksGateway(t *testing.T) {
	t.Parallel()

	ready := &fakeReadiness{}
	srv := NewServer(&fakeSnapshotter{}, ready, zap.NewNop())

	rec := doRequest(t, srv, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready.ready = true
	rec = doRequest(t, srv, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReturnsSnapshot(t *testing.T) {
	t.Parallel()

	publishedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	srv := NewServer(&fakeSnapshotter{snapshot: ticker.Snapshot{
		LastPrice:       "0.1234",
		LastPublishedAt: publishedAt,
		SuccessCount:    5,
		FailureCount:    2,
	}}, &fakeReadiness{ready: true}, zap.NewNop())

	rec := doRequest(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got ticker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "0.1234", got.LastPrice)
	require.True(t, got.LastPublishedAt.Equal(publishedAt))
	require.Equal(t, int64(5), got.SuccessCount)
	require.Equal(t, int64(2), got.FailureCount)
}

func TestStatusWithoutScheduler(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, &fakeReadiness{}, zap.NewNop())
	rec := doRequest(t, srv, "/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsServed(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeSnapshotter{}, &fakeReadiness{}, zap.NewNop())
	rec := doRequest(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}
