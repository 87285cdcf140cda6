package klaviyo_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo/klaviyotest"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func (t *recordingTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

func clientWithTimer(t *testing.T, srv *klaviyotest.Server) (*klaviyo.Client, *recordingTimer) {
	t.Helper()
	timer := newRecordingTimer()
	cfg := srv.Config()
	cfg.WaitStep = time.Second
	c, err := klaviyo.New(cfg, logging.Discard(), klaviyo.WithTimer(func() backoff.Timer { return timer }))
	require.NoError(t, err)
	return c, timer
}

func TestNew_Validation(t *testing.T) {
	_, err := klaviyo.New(klaviyo.Config{BaseURL: "https://a.klaviyo.com/api/"}, nil)
	assert.Error(t, err)

	_, err = klaviyo.New(klaviyo.Config{APIKey: "pk"}, nil)
	assert.Error(t, err)

	c, err := klaviyo.New(klaviyo.Config{BaseURL: "https://a.klaviyo.com/api", APIKey: "pk", PageSize: 500}, nil)
	require.NoError(t, err)
	assert.Equal(t, klaviyo.MaxPageSize, c.PageSize())
}

func TestClient_Headers(t *testing.T) {
	var got http.Header
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	c, err := klaviyo.New(klaviyo.Config{BaseURL: server.URL + "/api", APIKey: "pk_secret", Revision: "2023-06-15"}, logging.Discard())
	require.NoError(t, err)

	_, err = c.ListMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/api/metrics/", path)
	assert.Equal(t, "Klaviyo-API-Key pk_secret", got.Get("Authorization"))
	assert.Equal(t, "2023-06-15", got.Get("revision"))
	assert.Equal(t, "application/json", got.Get("Accept"))
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	srv := klaviyotest.New(t)
	srv.AddMetric("M1", "Viewed Product")
	srv.FailNext("metrics/", http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	c, timer := clientWithTimer(t, srv)

	got, err := c.ListMetrics(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Viewed Product", got[0].Attributes.Name)
	assert.Equal(t, 3, srv.Requests("metrics/"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.Waits())
}

func TestClient_RetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		wantRequests int
		wantWaits    []time.Duration
		wantIs       error
	}{
		{
			name:         "rate limited is retried",
			statuses:     []int{http.StatusTooManyRequests},
			wantRequests: 2,
			wantWaits:    []time.Duration{time.Second},
		},
		{
			name:         "server errors exhaust retries",
			statuses:     []int{500, 502, 503, 504},
			wantRequests: 4,
			wantWaits:    []time.Duration{time.Second, 2 * time.Second, 3 * time.Second},
			wantIs:       klaviyo.ErrRemoteUnavailable,
		},
		{
			name:         "client error is not retried",
			statuses:     []int{http.StatusBadRequest},
			wantRequests: 1,
			wantIs:       klaviyo.ErrRemoteRejected,
		},
		{
			name:         "not found is not retried",
			statuses:     []int{http.StatusNotFound},
			wantRequests: 1,
			wantIs:       klaviyo.ErrRemoteRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := klaviyotest.New(t)
			srv.FailNext("metrics/", tt.statuses...)
			c, timer := clientWithTimer(t, srv)

			_, err := c.ListMetrics(context.Background())

			assert.Equal(t, tt.wantRequests, srv.Requests("metrics/"))
			assert.Equal(t, tt.wantWaits, timer.Waits())
			if tt.wantIs == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)

			var apiErr *klaviyo.Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.statuses[len(tt.statuses)-1], apiErr.StatusCode())
			assert.NotNil(t, apiErr.RemoteBody())
		})
	}
}

func TestClient_NetworkErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	timer := newRecordingTimer()
	c, err := klaviyo.New(klaviyo.Config{BaseURL: base, APIKey: "pk", MaxRetries: 2, WaitStep: time.Second},
		logging.Discard(), klaviyo.WithTimer(func() backoff.Timer { return timer }))
	require.NoError(t, err)

	_, err = c.ListMetrics(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, klaviyo.ErrRemoteUnavailable)
	var apiErr *klaviyo.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 0, apiErr.StatusCode())
	assert.Len(t, timer.Waits(), 2)
}

func TestClient_CancelledContextStopsRetrying(t *testing.T) {
	srv := klaviyotest.New(t)
	srv.FailNext("metrics/", 503, 503, 503)
	c, _ := clientWithTimer(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListMetrics(ctx)
	require.Error(t, err)
	assert.LessOrEqual(t, srv.Requests("metrics/"), 1)
}

func TestError_Message(t *testing.T) {
	err := &klaviyo.Error{
		Method: "POST",
		Path:   "events/",
		Status: 400,
		Body: map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"detail": "metric name is required"}},
		},
	}
	assert.Equal(t, "klaviyo POST events/: status 400: metric name is required", err.Error())
	assert.ErrorIs(t, err, klaviyo.ErrRemoteRejected)
	assert.NotErrorIs(t, err, klaviyo.ErrRemoteUnavailable)
}
