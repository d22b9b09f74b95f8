package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statuswatch/internal/status"
	"statuswatch/pkg/logx"
)

func testService(baseURL string) status.Service {
	return status.Service{
		ID:      "testsvc",
		Name:    "Test Service",
		BaseURL: baseURL,
		Parser:  StatuspageParser{},
	}
}

func TestFetchConditionalETag(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"incidents": []}`))
	}))
	defer srv.Close()

	c := NewClient(logx.Nop())
	svc := testService(srv.URL)

	payload, err := c.Fetch(context.Background(), svc, status.KindIncidents)
	require.NoError(t, err)
	assert.JSONEq(t, `{"incidents": []}`, string(payload))
	assert.Equal(t, int64(1), calls.Load())

	// Replay window: an immediate second fetch never reaches the network.
	payload, err = c.Fetch(context.Background(), svc, status.KindIncidents)
	require.NoError(t, err)
	assert.NotNil(t, payload)
	assert.Equal(t, int64(1), calls.Load())

	// Expire the replay window; the conditional GET now yields 304.
	c.mu.Lock()
	for _, e := range c.entries {
		e.lastAt = e.lastAt.Add(-2 * replayWindow)
	}
	c.mu.Unlock()

	_, err = c.Fetch(context.Background(), svc, status.KindIncidents)
	assert.ErrorIs(t, err, ErrNotModified)
	assert.Equal(t, int64(2), calls.Load())

	// The stale payload stays available for manual checks.
	cached, ok := c.Cached(svc, status.KindIncidents)
	require.True(t, ok)
	assert.JSONEq(t, `{"incidents": []}`, string(cached))
}

func TestFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(logx.Nop())
	_, err := c.Fetch(context.Background(), testService(srv.URL), status.KindIncidents)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestFetchUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	c := NewClient(logx.Nop())
	_, err := c.Fetch(context.Background(), testService(srv.URL), status.KindIncidents)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestFetchErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"incidents": []}`))
	}))
	defer srv.Close()

	c := NewClient(logx.Nop())
	svc := testService(srv.URL)

	_, err := c.Fetch(context.Background(), svc, status.KindIncidents)
	require.ErrorIs(t, err, ErrUpstream)

	// The failure is not replayed; the retry goes back to the network.
	payload, err := c.Fetch(context.Background(), svc, status.KindIncidents)
	require.NoError(t, err)
	assert.NotNil(t, payload)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetchScheduledEndpoint(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		_, _ = w.Write([]byte(`{"scheduled_maintenances": []}`))
	}))
	defer srv.Close()

	c := NewClient(logx.Nop())
	_, err := c.Fetch(context.Background(), testService(srv.URL), status.KindScheduled)
	require.NoError(t, err)
	assert.Equal(t, "/scheduled-maintenances.json", path.Load())
}

func TestFetchTimeoutClassifiedAsUpstream(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(logx.Nop())
	svc := testService(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Fetch(ctx, svc, status.KindIncidents)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	// Shutdown cancellation is not upstream flakiness.
	cctx, ccancel := context.WithCancel(context.Background())
	ccancel()
	_, err = c.Fetch(cctx, svc, status.KindIncidents)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstream)
}
