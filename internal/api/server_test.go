package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-harvester/internal/harvest"
)

type fakeCheckpoints struct {
	cursor harvest.Cursor
	ok     bool
	err    error
}

func (f fakeCheckpoints) Read(context.Context) (harvest.Cursor, bool, error) {
	return f.cursor, f.ok, f.err
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzFollowsLoopState(t *testing.T) {
	t.Parallel()

	tracker := harvest.NewTracker("run-1", nil)
	s := NewServer(tracker, nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/readyz").Code)
	tracker.LoopStateChanged(harvest.LoopBootstrap)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/readyz").Code)
	tracker.LoopStateChanged(harvest.LoopIterating)
	assert.Equal(t, http.StatusOK, serve(t, s, "/readyz").Code)
}

func TestStatusReturnsSnapshot(t *testing.T) {
	t.Parallel()

	tracker := harvest.NewTracker("run-1", nil)
	tracker.LoopStateChanged(harvest.LoopIterating)
	tracker.RecordProcessed(4, nil)
	tracker.RecordProcessed(5, errors.New("sink"))

	rec := serve(t, NewServer(tracker, nil, nil), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got harvest.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "iterating", got.LoopState)
	assert.Equal(t, harvest.Cursor(5), got.Cursor)
	assert.Equal(t, 2, got.Processed)
	assert.Equal(t, 1, got.SinkFailures)
}

func TestStatusWithoutSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, NewServer(nil, nil, nil), "/status").Code)
}

func TestCheckpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		store  CheckpointReader
		code   int
		expect string
	}{
		{"present", fakeCheckpoints{cursor: 17, ok: true}, http.StatusOK, `{"present":true,"cursor":17}`},
		{"absent", fakeCheckpoints{}, http.StatusOK, `{"present":false}`},
		{"error", fakeCheckpoints{err: errors.New("io")}, http.StatusInternalServerError, `{"error":"failed to read checkpoint"}`},
		{"unconfigured", nil, http.StatusServiceUnavailable, `{"error":"checkpoint store unavailable"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, NewServer(nil, tt.store, nil), "/checkpoint")
			require.Equal(t, tt.code, rec.Code)
			assert.JSONEq(t, tt.expect, rec.Body.String())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil)
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil, nil, nil).Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/healthz", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test request
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
