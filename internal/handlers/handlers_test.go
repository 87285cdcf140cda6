package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/klaviyo-relay/internal/analytics"
	"github.com/telhawk-systems/klaviyo-relay/internal/dispatch"
	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo/klaviyotest"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/repository"
)

var day = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	h    *Handler
	srv  *klaviyotest.Server
	repo *repository.InMemoryRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := klaviyotest.New(t)
	client := srv.Client(t)
	repo := repository.NewInMemoryRepository()
	h := NewHandler(
		analytics.NewService(client, nil, logging.Discard(), analytics.Options{MetricConcurrency: 2}),
		dispatch.NewService(client, repo, nil, logging.Discard(), dispatch.Options{PerItemIsolation: true}),
		repo,
		logging.Discard(),
	)
	return &fixture{h: h, srv: srv, repo: repo}
}

func call(handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

const viewedProduct = `{"eventName":"Viewed Product","profileAttributes":{"email":"a@b.com"},"eventAttributes":{"sku":"X"}}`

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	rr := call(f.h.HealthCheck, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decodeMap(t, rr)["status"])
}

func TestCreateEvent(t *testing.T) {
	f := newFixture(t)

	rr := call(f.h.CreateEvent, http.MethodPost, "/api/v1/events", viewedProduct)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	resp := decodeMap(t, rr)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(1), resp["logId"])
	assert.Equal(t, 1, f.repo.Count())
	assert.Len(t, f.srv.Created(), 1)
}

func TestCreateEvent_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "malformed json", body: `{"eventName":`, wantMsg: "invalid request body"},
		{name: "missing event name", body: `{"profileAttributes":{"email":"a@b.com"},"eventAttributes":{}}`, wantMsg: "eventName is required"},
		{name: "empty profile", body: `{"eventName":"X","profileAttributes":{},"eventAttributes":{}}`, wantMsg: "profileAttributes"},
		{name: "bad currency", body: `{"eventName":"X","profileAttributes":{"email":"a@b.com"},"eventAttributes":{},"valueCurrency":"EURO"}`, wantMsg: "valueCurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rr := call(f.h.CreateEvent, http.MethodPost, "/api/v1/events", tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			resp := decodeMap(t, rr)
			assert.Equal(t, false, resp["success"])
			assert.Contains(t, resp["message"], tt.wantMsg)
			assert.Zero(t, f.repo.Count())
			assert.Zero(t, f.srv.Requests("events/"))
		})
	}
}

func TestCreateEvent_RemoteRejection(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext("events/", http.StatusBadRequest)

	rr := call(f.h.CreateEvent, http.MethodPost, "/api/v1/events", viewedProduct)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeMap(t, rr)
	remote, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "remote body is passed through")
	assert.Contains(t, remote, "errors")
	assert.Zero(t, f.repo.Count())
}

func TestCreateEvent_RemoteUnavailable(t *testing.T) {
	f := newFixture(t)
	f.srv.FailNext("events/", 503, 503, 503, 503)

	rr := call(f.h.CreateEvent, http.MethodPost, "/api/v1/events", viewedProduct)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, 4, f.srv.Requests("events/"))
}

func TestCreateBulkEvents(t *testing.T) {
	f := newFixture(t)
	body := `{"events":[` + viewedProduct + `,` + viewedProduct + `]}`

	rr := call(f.h.CreateBulkEvents, http.MethodPost, "/api/v1/events/bulk", body)

	require.Equal(t, http.StatusCreated, rr.Code)
	resp := decodeMap(t, rr)
	assert.Equal(t, float64(2), resp["total"])
	assert.Equal(t, float64(2), resp["successCount"])
	assert.Equal(t, "independent", resp["mode"])

	rr = call(f.h.CreateBulkEvents, http.MethodPost, "/api/v1/events/bulk", `{"events":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	f.srv.AddMetric("M1", "Viewed Product")
	f.srv.AddMetric("M2", "Placed Order")
	f.srv.AddEvent("M1", "", day)
	f.srv.AddEvent("M1", "", day.Add(time.Hour))
	f.srv.AddEvent("M2", "", day)

	rr := call(f.h.ListEvents, http.MethodGet, "/api/v1/events?metricName=viewed%20product&pageSize=1", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeMap(t, rr)
	assert.Len(t, resp["events"], 1)
	cursor, _ := resp["nextCursor"].(string)
	require.NotEmpty(t, cursor)

	rr = call(f.h.ListEvents, http.MethodGet, "/api/v1/events?pageSize=1&cursor="+cursor, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeMap(t, rr)["events"], 1)

	rr = call(f.h.ListEvents, http.MethodGet, "/api/v1/events?pageSize=500", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	before := f.srv.Requests("events/")
	rr = call(f.h.ListEvents, http.MethodGet, "/api/v1/events?pageSize=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, before, f.srv.Requests("events/"), "malformed pageSize never reaches the remote")

	rr = call(f.h.ListEvents, http.MethodGet, "/api/v1/events?metricName=Nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAllEvents(t *testing.T) {
	f := newFixture(t)
	f.srv.AddProfile("P1", "jane@example.com")
	f.srv.AddEvent("M1", "P1", day.Add(time.Hour))
	f.srv.AddEvent("M1", "P1", day.Add(48*time.Hour))

	rr := call(f.h.AllEvents, http.MethodGet, "/api/v1/analytics/events?metricId=M1&startDate=2025-01-01&endDate=2025-01-02", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var events []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "jane@example.com", events[0]["profileEmail"])

	rr = call(f.h.AllEvents, http.MethodGet, "/api/v1/analytics/events?startDate=2025-01-02&endDate=2025-01-01", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(f.h.AllEvents, http.MethodGet, "/api/v1/analytics/events?startDate=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEventsByEmailAndDate(t *testing.T) {
	f := newFixture(t)
	f.srv.AddProfile("P1", "jane@example.com")
	f.srv.AddEvent("M1", "P1", day.Add(time.Hour))
	f.srv.AddEvent("M2", "P1", day.Add(2*time.Hour))

	rr := call(f.h.EventsByEmailAndDate, http.MethodGet, "/api/v1/analytics/events-by-email-date?email=jane@example.com&date=2025-01-01", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeMap(t, rr)
	assert.Equal(t, float64(2), resp["total"])
	assert.Equal(t, "2025-01-01", resp["date"])

	rr = call(f.h.EventsByEmailAndDate, http.MethodGet, "/api/v1/analytics/events-by-email-date?email=nobody@example.com&date=2025-01-01", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(f.h.EventsByEmailAndDate, http.MethodGet, "/api/v1/analytics/events-by-email-date?email=jane@example.com", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeMap(t, rr)["message"], "date is required")
}

func TestListMetrics(t *testing.T) {
	f := newFixture(t)
	f.srv.AddMetric("M1", "Viewed Product")
	f.srv.AddMetric("M2", "Placed Order")

	rr := call(f.h.ListMetrics, http.MethodGet, "/api/v1/metrics", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeMap(t, rr)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(2), resp["total"])
	assert.Len(t, resp["data"], 2)
}

func TestMetricCounts(t *testing.T) {
	f := newFixture(t)
	f.srv.AddMetric("M1", "Viewed Product")
	f.srv.AddProfile("P1", "jane@example.com")
	f.srv.AddEvent("M1", "P1", day.Add(time.Hour))

	rr := call(f.h.MetricCounts, http.MethodGet, "/api/v1/metrics/counts?date=2025-01-01", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, float64(1), got[0]["count"])

	rr = call(f.h.MetricCounts, http.MethodGet, "/api/v1/metrics/counts", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricByName(t *testing.T) {
	f := newFixture(t)
	f.srv.AddMetric("M1", "Viewed Product")

	rr := call(f.h.MetricByName, http.MethodGet, "/api/v1/metrics/by-name?name=Viewed%20Product&date=2025-01-01", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(0), decodeMap(t, rr)["count"])

	rr = call(f.h.MetricByName, http.MethodGet, "/api/v1/metrics/by-name?name=Nonexistent&date=2025-01-01", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, false, decodeMap(t, rr)["success"])
}

func TestProfileByEmail(t *testing.T) {
	f := newFixture(t)
	f.srv.AddProfile("P1", "jane@example.com")

	rr := call(f.h.ProfileByEmail, http.MethodGet, "/api/v1/profiles?email=jane@example.com", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeMap(t, rr)
	attrs := resp["profileAttributes"].(map[string]interface{})
	assert.Equal(t, "jane@example.com", attrs["email"])

	rr = call(f.h.ProfileByEmail, http.MethodGet, "/api/v1/profiles?email=ghost@example.com", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(f.h.ProfileByEmail, http.MethodGet, "/api/v1/profiles?email=%20", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProfileMetrics(t *testing.T) {
	f := newFixture(t)
	f.srv.AddMetric("M1", "Viewed Product")
	f.srv.AddProfile("P1", "jane@example.com")
	f.srv.AddProfile("P2", "joe@example.com")
	f.srv.AddEvent("M1", "P1", day)
	f.srv.AddEvent("M1", "P2", day)

	rr := call(f.h.ProfileMetrics, http.MethodGet, "/api/v1/profiles/metrics?email=JANE@example.com", "")

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeMap(t, rr)
	assert.Equal(t, float64(1), resp["totalEvents"])
	assert.Equal(t, map[string]interface{}{"Viewed Product": float64(1)}, resp["metricSummary"])
}

func TestMergeProfiles(t *testing.T) {
	f := newFixture(t)

	rr := call(f.h.MergeProfiles, http.MethodPost, "/api/v1/profiles/merge", `{"primaryProfileId":"P1","duplicateProfileId":"P2"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, f.srv.Merges(), 1)

	rr = call(f.h.MergeProfiles, http.MethodPost, "/api/v1/profiles/merge", `{"primaryProfileId":"P1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.True(t, strings.Contains(decodeMap(t, rr)["message"].(string), "duplicateProfileId"))
}
