// Package klaviyotest provides an in-process fake of the Klaviyo API for tests.
package klaviyotest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
)

// APIKey is the credential the fake server expects.
const APIKey = "pk_test_relay"

var predicateRe = regexp.MustCompile(`([a-z-]+)\(([a-z_]+),"?([^")]*)"?\)`)

type cursorState struct {
	filter string
	offset int
}

// Server is a fake Klaviyo API backed by in-memory fixtures.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	metrics  []klaviyo.Metric
	profiles map[string]klaviyo.Profile
	events   []klaviyo.Event
	cursors  map[string]cursorState
	nextID   int

	failures       map[string][]int
	metricFailures map[string]int
	profileLookups map[string]int
	requests       map[string]int
	created        []map[string]interface{}
	bulkJobs       []map[string]interface{}
	merges         []map[string]interface{}

	// EchoCursor makes every events page advertise the same next cursor.
	EchoCursor bool
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		profiles:       make(map[string]klaviyo.Profile),
		cursors:        make(map[string]cursorState),
		failures:       make(map[string][]int),
		metricFailures: make(map[string]int),
		profileLookups: make(map[string]int),
		requests:       make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events/{$}", s.handleListEvents)
	mux.HandleFunc("POST /events/{$}", s.record(&s.created))
	mux.HandleFunc("POST /event-bulk-create-jobs/{$}", s.record(&s.bulkJobs))
	mux.HandleFunc("POST /profile-merge/{$}", s.record(&s.merges))
	mux.HandleFunc("GET /profiles/{$}", s.handleFindProfile)
	mux.HandleFunc("GET /profiles/{id}/{$}", s.handleGetProfile)
	mux.HandleFunc("GET /metrics/{$}", s.handleListMetrics)

	s.Server = httptest.NewServer(s.guard(mux))
	t.Cleanup(s.Close)
	return s
}

// Config returns a client configuration pointing at the server. Retries wait
// one millisecond per step.
func (s *Server) Config() klaviyo.Config {
	return klaviyo.Config{
		BaseURL:    s.URL + "/",
		APIKey:     APIKey,
		Revision:   "2023-06-15",
		Timeout:    5 * time.Second,
		PageSize:   100,
		MaxPages:   50,
		MaxRetries: 3,
		WaitStep:   time.Millisecond,
	}
}

// Client builds a client for the server.
func (s *Server) Client(t testing.TB, opts ...klaviyo.Option) *klaviyo.Client {
	t.Helper()
	c, err := klaviyo.New(s.Config(), logging.Discard(), opts...)
	if err != nil {
		t.Fatalf("klaviyotest: new client: %v", err)
	}
	return c
}

// AddMetric registers a metric.
func (s *Server) AddMetric(id, name string) klaviyo.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := klaviyo.Metric{Type: "metric", ID: id, Attributes: klaviyo.MetricAttributes{Name: name}}
	s.metrics = append(s.metrics, m)
	return m
}

// AddProfile registers a profile.
func (s *Server) AddProfile(id, email string) klaviyo.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := klaviyo.Profile{Type: "profile", ID: id, Attributes: klaviyo.ProfileAttributes{Email: email}}
	s.profiles[id] = p
	return p
}

// AddEvent registers an event. The collection is served newest first.
func (s *Server) AddEvent(metricID, profileID string, at time.Time) klaviyo.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e := klaviyo.Event{
		Type: "event",
		ID:   fmt.Sprintf("evt-%d", s.nextID),
		Attributes: klaviyo.EventAttributes{
			MetricID:        metricID,
			ProfileID:       profileID,
			Timestamp:       at.Unix(),
			Datetime:        at.UTC().Format(time.RFC3339),
			EventProperties: map[string]interface{}{},
		},
	}
	s.events = append(s.events, e)
	return e
}

// Seed fills the server with random metrics, profiles and events spread over day.
func (s *Server) Seed(seed int64, day time.Time, metrics, profiles, events int) {
	f := gofakeit.New(seed)
	metricIDs := make([]string, 0, metrics)
	for i := 0; i < metrics; i++ {
		id := "M" + strings.ToUpper(f.LetterN(6))
		s.AddMetric(id, f.BuzzWord()+" "+f.HackerVerb())
		metricIDs = append(metricIDs, id)
	}
	profileIDs := make([]string, 0, profiles)
	for i := 0; i < profiles; i++ {
		id := "P" + strings.ToUpper(f.LetterN(8))
		s.AddProfile(id, f.Email())
		profileIDs = append(profileIDs, id)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i < events && len(metricIDs) > 0 && len(profileIDs) > 0; i++ {
		at := f.DateRange(start, start.Add(24*time.Hour-time.Second))
		s.AddEvent(metricIDs[f.Number(0, len(metricIDs)-1)], profileIDs[f.Number(0, len(profileIDs)-1)], at)
	}
}

// FailNext makes the next requests to path ("events/", "profiles/", ...) answer
// with the given statuses, one per request.
func (s *Server) FailNext(path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], statuses...)
}

// FailMetric makes every events query filtered on metricID answer with status.
func (s *Server) FailMetric(metricID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricFailures[metricID] = status
}

// ProfileLookups returns how many times profile id was fetched.
func (s *Server) ProfileLookups(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileLookups[id]
}

// Requests returns how many requests hit path, including failed ones.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// Created returns the bodies posted to events/.
func (s *Server) Created() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.created...)
}

// BulkJobs returns the bodies posted to event-bulk-create-jobs/.
func (s *Server) BulkJobs() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.bulkJobs...)
}

// Merges returns the bodies posted to profile-merge/.
func (s *Server) Merges() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.merges...)
}

func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Klaviyo-API-Key "+APIKey {
			writeError(w, http.StatusUnauthorized, "Missing or invalid private key.")
			return
		}
		if r.Header.Get("revision") == "" {
			writeError(w, http.StatusBadRequest, "Missing revision header.")
			return
		}

		key := strings.TrimPrefix(r.URL.Path, "/")
		if i := strings.IndexByte(key, '/'); i >= 0 {
			key = key[:i+1]
		}
		s.mu.Lock()
		s.requests[key]++
		var status int
		if queued := s.failures[key]; len(queued) > 0 {
			status, s.failures[key] = queued[0], queued[1:]
		}
		s.mu.Unlock()
		if status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) record(into *[]map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Malformed JSON")
			return
		}
		s.mu.Lock()
		*into = append(*into, body)
		s.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, _ := strconv.Atoi(q.Get("page[size]"))
	if size <= 0 || size > klaviyo.MaxPageSize {
		size = klaviyo.MaxPageSize
	}

	s.mu.Lock()
	state := cursorState{filter: q.Get("filter")}
	if c := q.Get("page[cursor]"); c != "" {
		known, ok := s.cursors[c]
		if !ok {
			s.mu.Unlock()
			writeError(w, http.StatusBadRequest, "Invalid page cursor")
			return
		}
		state = known
	}
	for metricID, status := range s.metricFailures {
		if strings.Contains(state.filter, `equals(metric_id,"`+metricID+`")`) {
			s.mu.Unlock()
			writeError(w, status, "metric query failed")
			return
		}
	}

	matched := make([]klaviyo.Event, 0, len(s.events))
	for _, e := range s.events {
		if matchEvent(e, state.filter) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Attributes.Timestamp > matched[j].Attributes.Timestamp
	})

	end := min(state.offset+size, len(matched))
	page := klaviyo.Page[klaviyo.EventAttributes]{Data: matched[state.offset:end]}
	if end < len(matched) || s.EchoCursor {
		token := "echo"
		if !s.EchoCursor {
			token = fmt.Sprintf("c%d", len(s.cursors)+1)
		}
		s.cursors[token] = cursorState{filter: state.filter, offset: end % max(len(matched), 1)}
		page.Links.Next = s.URL + "/events/?page%5Bcursor%5D=" + token
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	s.profileLookups[id]++
	p, ok := s.profiles[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "A profile with id "+id+" does not exist.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": p})
}

func (s *Server) handleFindProfile(w http.ResponseWriter, r *http.Request) {
	email := ""
	for _, m := range predicateRe.FindAllStringSubmatch(r.URL.Query().Get("filter"), -1) {
		if m[1] == "equals" && m[2] == "email" {
			email = m[3]
		}
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	page := klaviyo.Page[klaviyo.ProfileAttributes]{Data: []klaviyo.Profile{}}
	for _, id := range ids {
		if p := s.profiles[id]; email != "" && strings.EqualFold(p.Attributes.Email, email) {
			page.Data = append(page.Data, p)
			break
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("page[size]") {
		writeError(w, http.StatusBadRequest, "page[size] is not supported for metrics")
		return
	}
	s.mu.Lock()
	page := klaviyo.Page[klaviyo.MetricAttributes]{Data: append([]klaviyo.Metric{}, s.metrics...)}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, page)
}

func matchEvent(e klaviyo.Event, filter string) bool {
	at, _ := time.Parse(time.RFC3339, e.Attributes.Datetime)
	for _, m := range predicateRe.FindAllStringSubmatch(filter, -1) {
		op, field, value := m[1], m[2], m[3]
		switch {
		case op == "equals" && field == "metric_id":
			if e.Attributes.MetricID != value {
				return false
			}
		case op == "equals" && field == "profile_id":
			if e.Attributes.ProfileID != value {
				return false
			}
		case op == "greater-or-equal" && field == "datetime":
			bound, err := time.Parse(time.RFC3339, value)
			if err != nil || at.Before(bound) {
				return false
			}
		case op == "less-than" && field == "datetime":
			bound, err := time.Parse(time.RFC3339, value)
			if err != nil || !at.Before(bound) {
				return false
			}
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]interface{}{
		"errors": []map[string]interface{}{{
			"status": status,
			"code":   strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_")),
			"title":  http.StatusText(status),
			"detail": detail,
		}},
	})
}
