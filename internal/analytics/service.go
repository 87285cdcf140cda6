// Package analytics answers aggregate questions by walking paginated Klaviyo
// collections and joining events to profile emails and metric names.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/klaviyo-relay/internal/httputil"
	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
	"github.com/telhawk-systems/klaviyo-relay/internal/metrics"
	"github.com/telhawk-systems/klaviyo-relay/internal/models"
	"github.com/telhawk-systems/klaviyo-relay/internal/profilecache"
)

var (
	// ErrNotFound is returned when a metric or profile lookup key matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrScanLimit is returned when an unbounded scan exceeds the configured event budget.
	ErrScanLimit = errors.New("full scan event limit exceeded")
)

const (
	dateLayout    = "2006-01-02"
	unnamedMetric = "Unnamed"
	unknownMetric = "Unknown"
)

// Options tunes the aggregation engine.
type Options struct {
	// MetricConcurrency bounds how many per-metric queries run at once.
	MetricConcurrency int
	// FullScanMaxEvents stops an unbounded scan after this many events. 0 means no limit.
	FullScanMaxEvents int
}

type Service struct {
	client *klaviyo.Client
	lookup profilecache.Lookup
	logger *logging.Logger
	opts   Options
}

// NewService creates the engine. A nil lookup resolves emails straight from the profiles endpoint.
func NewService(client *klaviyo.Client, lookup profilecache.Lookup, logger *logging.Logger, opts Options) *Service {
	if lookup == nil {
		lookup = profilecache.ClientLookup{Client: client}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.MetricConcurrency < 1 {
		opts.MetricConcurrency = 1
	}
	return &Service{client: client, lookup: lookup, logger: logger, opts: opts}
}

func (s *Service) newCache() *profilecache.Cache {
	return profilecache.New(s.lookup, s.logger)
}

// AllEvents returns every event matching the optional metric and window, newest
// first, each annotated with its profile email.
func (s *Service) AllEvents(ctx context.Context, metricID string, window klaviyo.Window) ([]models.AnnotatedEvent, error) {
	return s.allEvents(ctx, s.newCache(), metricID, window)
}

func (s *Service) allEvents(ctx context.Context, cache *profilecache.Cache, metricID string, window klaviyo.Window) ([]models.AnnotatedEvent, error) {
	out := []models.AnnotatedEvent{}
	for ev, err := range s.client.Events(ctx, klaviyo.EventQuery(metricID, "", window)) {
		if err != nil {
			return nil, fmt.Errorf("failed to fetch events: %w", err)
		}
		out = append(out, models.AnnotatedEvent{
			Event:        ev,
			ProfileEmail: cache.Resolve(ctx, ev.Attributes.ProfileID),
		})
	}
	return out, nil
}

// MetricCountsByDate summarizes every metric for the UTC day containing date.
// A metric whose query fails is reported with Count 0 and Error set; only a
// failure to list the metrics themselves is returned as an error.
func (s *Service) MetricCountsByDate(ctx context.Context, date time.Time) ([]models.MetricEmailSummary, error) {
	all, err := s.client.ListMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}

	cache := s.newCache()
	window := klaviyo.Day(date)
	day := window.Start.Format(dateLayout)
	slots := make([]*models.MetricEmailSummary, len(all))

	var g errgroup.Group
	g.SetLimit(s.opts.MetricConcurrency)
	for i, m := range all {
		if m.ID == "" {
			s.logger.WarnContext(ctx, "skipping metric with missing id", logging.Metric(metricName(m)))
			continue
		}
		g.Go(func() error {
			summary := s.summarize(ctx, cache, m, window, day)
			slots[i] = &summary
			return nil
		})
	}
	_ = g.Wait()

	results := make([]models.MetricEmailSummary, 0, len(all))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// MetricByNameAndDate summarizes the metric whose name matches case-insensitively.
// The summary carries name as the caller spelled it. It returns ErrNotFound when
// no metric matches; a failed event query is reported on the summary instead.
func (s *Service) MetricByNameAndDate(ctx context.Context, name string, date time.Time) (*models.MetricEmailSummary, error) {
	m, err := s.findMetric(ctx, name)
	if err != nil {
		return nil, err
	}
	window := klaviyo.Day(date)
	summary := s.summarize(ctx, s.newCache(), *m, window, window.Start.Format(dateLayout))
	summary.Metric = name
	return &summary, nil
}

func (s *Service) summarize(ctx context.Context, cache *profilecache.Cache, m klaviyo.Metric, window klaviyo.Window, day string) models.MetricEmailSummary {
	summary := models.MetricEmailSummary{
		MetricID: m.ID,
		Metric:   metricName(m),
		Date:     day,
		Emails:   []string{},
	}

	events, err := s.allEvents(ctx, cache, m.ID, window)
	if err != nil {
		metrics.MetricSummaryFailures.Inc()
		s.logger.WarnContext(ctx, "metric summary failed",
			logging.Metric(summary.Metric),
			logging.Error(err),
		)
		summary.Error = httputil.ErrorPayload(err)
		return summary
	}

	summary.Count = len(events)
	for _, ev := range events {
		if ev.ProfileEmail != nil {
			summary.Emails = append(summary.Emails, *ev.ProfileEmail)
		}
	}
	return summary
}

// ProfileMetricSummary tallies, per metric name, the events whose profile email
// equals email. With a zero window every event in the account is scanned.
func (s *Service) ProfileMetricSummary(ctx context.Context, email string, window klaviyo.Window) (*models.ProfileMetricSummary, error) {
	all, err := s.client.ListMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	names := make(map[string]string, len(all))
	for _, m := range all {
		name := m.Attributes.Name
		if name == "" {
			name = unknownMetric
		}
		names[m.ID] = name
	}

	if window.IsZero() {
		metrics.FullScansTotal.Inc()
		s.logger.WarnContext(ctx, "profile metric summary is scanning the full event history",
			slog.String("email", email),
			slog.Int("max_events", s.opts.FullScanMaxEvents),
		)
	}

	cache := s.newCache()
	result := &models.ProfileMetricSummary{Email: email, MetricSummary: map[string]int{}}
	for ev, err := range s.client.Events(ctx, klaviyo.EventQuery("", "", window)) {
		if err != nil {
			return nil, fmt.Errorf("failed to fetch events: %w", err)
		}
		result.Scanned++
		if s.opts.FullScanMaxEvents > 0 && result.Scanned > s.opts.FullScanMaxEvents {
			return nil, fmt.Errorf("%w: more than %d events", ErrScanLimit, s.opts.FullScanMaxEvents)
		}

		resolved := cache.Resolve(ctx, ev.Attributes.ProfileID)
		if resolved == nil || !strings.EqualFold(*resolved, email) {
			continue
		}
		name, ok := names[ev.Attributes.MetricID]
		if !ok {
			name = unknownMetric
		}
		result.MetricSummary[name]++
		result.TotalEvents++
	}

	s.logger.InfoContext(ctx, "profile metric summary complete",
		logging.Count(int64(result.Scanned)),
		slog.Int("matched", result.TotalEvents),
		slog.Int("profile_lookups", cache.Lookups()),
	)
	return result, nil
}

// EventsByEmailAndDate lists the events of the profile with email on the UTC day containing date.
func (s *Service) EventsByEmailAndDate(ctx context.Context, email string, date time.Time) (*models.EmailDayEvents, error) {
	profile, err := s.ProfileByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	window := klaviyo.Day(date)
	events, err := klaviyo.CollectAll(s.client.Events(ctx, klaviyo.EventQuery("", profile.ID, window)))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	if events == nil {
		events = []klaviyo.Event{}
	}
	return &models.EmailDayEvents{
		Email:  email,
		Date:   window.Start.Format(dateLayout),
		Total:  len(events),
		Events: events,
	}, nil
}

// ProfileByEmail returns the profile with email or ErrNotFound.
func (s *Service) ProfileByEmail(ctx context.Context, email string) (*klaviyo.Profile, error) {
	profile, err := s.client.FindProfileByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: profile with email %q", ErrNotFound, email)
	}
	return profile, nil
}

// ListMetrics returns the full metric catalogue.
func (s *Service) ListMetrics(ctx context.Context) ([]klaviyo.Metric, error) {
	all, err := s.client.ListMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	if all == nil {
		all = []klaviyo.Metric{}
	}
	return all, nil
}

// EventsPage returns one page of events. metricName only applies to the first
// page; a cursor already encodes the original filter.
func (s *Service) EventsPage(ctx context.Context, metricName, cursor string, pageSize int) (*models.EventsPage, error) {
	q := klaviyo.Query{Sort: "-datetime", PageSize: pageSize}
	if cursor == "" && metricName != "" {
		m, err := s.findMetric(ctx, metricName)
		if err != nil {
			return nil, err
		}
		q = klaviyo.EventQuery(m.ID, "", klaviyo.Window{})
		q.PageSize = pageSize
	}

	page, err := s.client.EventsPage(ctx, q, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	events := page.Data
	if events == nil {
		events = []klaviyo.Event{}
	}
	return &models.EventsPage{Events: events, NextCursor: klaviyo.CursorFrom(page.Links.Next)}, nil
}

func (s *Service) findMetric(ctx context.Context, name string) (*klaviyo.Metric, error) {
	all, err := s.client.ListMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	for i := range all {
		if strings.EqualFold(all[i].Attributes.Name, name) {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("%w: metric %q", ErrNotFound, name)
}

func metricName(m klaviyo.Metric) string {
	if m.Attributes.Name == "" {
		return unnamedMetric
	}
	return m.Attributes.Name
}
