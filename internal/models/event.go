package models

import (
	"time"

	"github.com/telhawk-systems/klaviyo-relay/internal/klaviyo"
)

// CreateEventRequest is the inbound body for a single event submission.
type CreateEventRequest struct {
	EventName         string                 `json:"eventName" validate:"required"`
	EventAttributes   map[string]interface{} `json:"eventAttributes" validate:"required"`
	ProfileAttributes map[string]interface{} `json:"profileAttributes" validate:"required,min=1"`
	Time              *time.Time             `json:"time,omitempty"`
	Value             *float64               `json:"value,omitempty"`
	ValueCurrency     string                 `json:"valueCurrency,omitempty" validate:"omitempty,len=3"`
	UniqueID          string                 `json:"uniqueId,omitempty" validate:"omitempty,max=255"`
}

// CreateBulkEventRequest is the inbound body for a bulk submission.
type CreateBulkEventRequest struct {
	Events []CreateEventRequest `json:"events" validate:"required,min=1,dive"`
}

// ToNewEvent converts the request into the remote create-event input.
func (r CreateEventRequest) ToNewEvent() klaviyo.NewEvent {
	e := klaviyo.NewEvent{
		MetricName:    r.EventName,
		Profile:       r.ProfileAttributes,
		Properties:    r.EventAttributes,
		Value:         r.Value,
		ValueCurrency: r.ValueCurrency,
		UniqueID:      r.UniqueID,
	}
	if r.Time != nil {
		e.Time = r.Time.UTC().Format(time.RFC3339)
	}
	return e
}

// ToLog converts the request into a log row. ID and CreatedAt are assigned by the store.
func (r CreateEventRequest) ToLog() *EventLog {
	return &EventLog{
		EventName:         r.EventName,
		EventAttributes:   r.EventAttributes,
		ProfileAttributes: r.ProfileAttributes,
		EventTime:         r.Time,
		Value:             r.Value,
		UniqueID:          r.UniqueID,
	}
}

// MergeProfilesRequest merges duplicate profiles into a primary one.
type MergeProfilesRequest struct {
	PrimaryProfileID    string   `json:"primaryProfileId" validate:"required"`
	DuplicateProfileID  string   `json:"duplicateProfileId" validate:"required_without=DuplicateProfileIDs"`
	DuplicateProfileIDs []string `json:"duplicateProfileIds" validate:"omitempty,dive,required"`
}

// SourceIDs returns every duplicate id named by the request.
func (r MergeProfilesRequest) SourceIDs() []string {
	ids := make([]string, 0, len(r.DuplicateProfileIDs)+1)
	if r.DuplicateProfileID != "" {
		ids = append(ids, r.DuplicateProfileID)
	}
	return append(ids, r.DuplicateProfileIDs...)
}

// EventLog is a locally recorded outbound event.
type EventLog struct {
	ID                int64                  `json:"id"`
	EventName         string                 `json:"eventName"`
	EventAttributes   map[string]interface{} `json:"eventAttributes"`
	ProfileAttributes map[string]interface{} `json:"profileAttributes"`
	EventTime         *time.Time             `json:"timestamp,omitempty"`
	Value             *float64               `json:"value,omitempty"`
	UniqueID          string                 `json:"uniqueId,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
}

// DispatchResult is the reply to a single submission.
type DispatchResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	LogID   int64       `json:"logId"`
	Data    interface{} `json:"data"`
}

// BulkEventResult is the outcome of one item in a bulk submission.
type BulkEventResult struct {
	Success   bool                   `json:"success"`
	EventName string                 `json:"eventName"`
	Profile   map[string]interface{} `json:"profile"`
	Data      interface{}            `json:"data,omitempty"`
	Error     interface{}            `json:"error,omitempty"`
}

// BulkResponse summarizes a bulk submission.
type BulkResponse struct {
	Total        int               `json:"total"`
	SuccessCount int               `json:"successCount"`
	FailedCount  int               `json:"failedCount"`
	Mode         string            `json:"mode"`
	Results      []BulkEventResult `json:"results"`
}

// DispatchNotification is published after an event is accepted remotely.
type DispatchNotification struct {
	ID         string    `json:"id"`
	LogID      int64     `json:"logId,omitempty"`
	EventName  string    `json:"eventName"`
	Mode       string    `json:"mode"`
	AcceptedAt time.Time `json:"acceptedAt"`
}
