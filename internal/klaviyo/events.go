package klaviyo

import (
	"context"
	"iter"
	"net/http"
)

const (
	eventsPath         = "events/"
	eventBulkJobsPath  = "event-bulk-create-jobs/"
	sortDatetimeNewest = "-datetime"
)

// EventQuery builds the filter for an events listing. Any argument may be zero.
// The lower bound is inclusive and the upper bound exclusive.
func EventQuery(metricID, profileID string, window Window) Query {
	var metricPred, profilePred, fromPred, toPred string
	if metricID != "" {
		metricPred = Equals("metric_id", metricID)
	}
	if profileID != "" {
		profilePred = Equals("profile_id", profileID)
	}
	if window.Start != nil {
		fromPred = GreaterOrEqual("datetime", *window.Start)
	}
	if window.End != nil {
		toPred = LessThan("datetime", *window.End)
	}
	return Query{
		Filter: And(metricPred, profilePred, fromPred, toPred),
		Sort:   sortDatetimeNewest,
	}
}

// Events paginates the events collection, newest first.
func (c *Client) Events(ctx context.Context, q Query) iter.Seq2[Event, error] {
	return Paginate[EventAttributes](ctx, c, eventsPath, q)
}

// EventsPage fetches one page of events.
func (c *Client) EventsPage(ctx context.Context, q Query, cursor string) (*Page[EventAttributes], error) {
	return FetchPage[EventAttributes](ctx, c, eventsPath, q, cursor)
}

type eventPayload struct {
	Data eventPayloadData `json:"data"`
}

type eventPayloadData struct {
	Type       string                 `json:"type"`
	Attributes eventPayloadAttributes `json:"attributes"`
}

type metricRef struct {
	Name string `json:"name"`
}

type eventPayloadAttributes struct {
	Metric        metricRef              `json:"metric"`
	Profile       map[string]interface{} `json:"profile"`
	Properties    map[string]interface{} `json:"properties"`
	Time          string                 `json:"time,omitempty"`
	Value         *float64               `json:"value,omitempty"`
	ValueCurrency string                 `json:"value_currency,omitempty"`
	UniqueID      string                 `json:"unique_id,omitempty"`
}

func buildEventPayload(e NewEvent) eventPayload {
	props := e.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	profile := e.Profile
	if profile == nil {
		profile = map[string]interface{}{}
	}
	return eventPayload{Data: eventPayloadData{
		Type: "event",
		Attributes: eventPayloadAttributes{
			Metric:        metricRef{Name: e.MetricName},
			Profile:       profile,
			Properties:    props,
			Time:          e.Time,
			Value:         e.Value,
			ValueCurrency: e.ValueCurrency,
			UniqueID:      e.UniqueID,
		},
	}}
}

// CreateEvent submits one event. The decoded response body is returned; it is
// nil for the usual 202 with an empty body.
func (c *Client) CreateEvent(ctx context.Context, e NewEvent) (interface{}, error) {
	var out interface{}
	if err := c.do(ctx, http.MethodPost, eventsPath, nil, buildEventPayload(e), &out); err != nil {
		return nil, err
	}
	return out, nil
}

type jsonAPIData[T any] struct {
	Data T `json:"data"`
}

type typedAttributes[A any] struct {
	Type       string `json:"type"`
	Attributes A      `json:"attributes"`
}

type bulkJobAttributes struct {
	EventsBulkCreate jsonAPIData[[]typedAttributes[bulkEntry]] `json:"events-bulk-create"`
}

type bulkEntry struct {
	Profile jsonAPIData[typedAttributes[map[string]interface{}]] `json:"profile"`
	Events  jsonAPIData[[]typedAttributes[bulkEvent]]            `json:"events"`
}

type bulkEvent struct {
	Metric        jsonAPIData[typedAttributes[metricRef]] `json:"metric"`
	Properties    map[string]interface{}                  `json:"properties"`
	Time          string                                  `json:"time,omitempty"`
	Value         *float64                                `json:"value,omitempty"`
	ValueCurrency string                                  `json:"value_currency,omitempty"`
	UniqueID      string                                  `json:"unique_id,omitempty"`
}

func buildBulkJobPayload(events []NewEvent) jsonAPIData[typedAttributes[bulkJobAttributes]] {
	entries := make([]typedAttributes[bulkEntry], 0, len(events))
	for _, e := range events {
		single := buildEventPayload(e).Data.Attributes
		entries = append(entries, typedAttributes[bulkEntry]{
			Type: "event-bulk-create",
			Attributes: bulkEntry{
				Profile: jsonAPIData[typedAttributes[map[string]interface{}]]{
					Data: typedAttributes[map[string]interface{}]{Type: "profile", Attributes: single.Profile},
				},
				Events: jsonAPIData[[]typedAttributes[bulkEvent]]{Data: []typedAttributes[bulkEvent]{{
					Type: "event",
					Attributes: bulkEvent{
						Metric: jsonAPIData[typedAttributes[metricRef]]{
							Data: typedAttributes[metricRef]{Type: "metric", Attributes: single.Metric},
						},
						Properties:    single.Properties,
						Time:          single.Time,
						Value:         single.Value,
						ValueCurrency: single.ValueCurrency,
						UniqueID:      single.UniqueID,
					},
				}}},
			},
		})
	}
	return jsonAPIData[typedAttributes[bulkJobAttributes]]{
		Data: typedAttributes[bulkJobAttributes]{
			Type: "event-bulk-create-job",
			Attributes: bulkJobAttributes{
				EventsBulkCreate: jsonAPIData[[]typedAttributes[bulkEntry]]{Data: entries},
			},
		},
	}
}

// CreateBulkEventsJob submits events as one asynchronous bulk job. A nil error
// means Klaviyo accepted the batch; per-event outcomes are not reported back.
func (c *Client) CreateBulkEventsJob(ctx context.Context, events []NewEvent) (interface{}, error) {
	var out interface{}
	if err := c.do(ctx, http.MethodPost, eventBulkJobsPath, nil, buildBulkJobPayload(events), &out); err != nil {
		return nil, err
	}
	return out, nil
}
