package models

import "github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"

// AnnotatedEvent is a remote event with the email of its profile attached.
type AnnotatedEvent struct {
	klaviyo.Event
	ProfileEmail *string `json:"profileEmail"`
}

// MetricEmailSummary counts one metric's events for one day.
type MetricEmailSummary struct {
	MetricID string   `json:"metricId"`
	Metric   string   `json:"metric"`
	Date     string   `json:"date"`
	Count    int      `json:"count"`
	Emails   []string `json:"emails"`
	// Error is the upstream error body when there is one, else the error message.
	Error interface{} `json:"error,omitempty"`
}

// ProfileMetricSummary tallies a profile's events per metric name.
type ProfileMetricSummary struct {
	Email         string         `json:"email"`
	TotalEvents   int            `json:"totalEvents"`
	Scanned       int            `json:"scanned"`
	MetricSummary map[string]int `json:"metricSummary"`
}

// EmailDayEvents lists one profile's events on one day.
type EmailDayEvents struct {
	Email  string          `json:"email"`
	Date   string          `json:"date"`
	Total  int             `json:"total"`
	Events []klaviyo.Event `json:"events"`
}

// EventsPage is a single page passthrough.
type EventsPage struct {
	Events     []klaviyo.Event `json:"events"`
	NextCursor string          `json:"nextCursor,omitempty"`
}
