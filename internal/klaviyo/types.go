package klaviyo

// Resource is a JSON:API resource object as returned by Klaviyo.
type Resource[A any] struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes A      `json:"attributes"`
}

// Links carries the pagination links of a collection response.
type Links struct {
	Self string `json:"self,omitempty"`
	Next string `json:"next,omitempty"`
	Prev string `json:"prev,omitempty"`
}

// Page is one page of a collection.
type Page[A any] struct {
	Data  []Resource[A] `json:"data"`
	Links Links         `json:"links"`
}

// EventAttributes are the attributes of an event resource.
type EventAttributes struct {
	MetricID        string                 `json:"metric_id,omitempty"`
	ProfileID       string                 `json:"profile_id,omitempty"`
	Timestamp       int64                  `json:"timestamp,omitempty"`
	Datetime        string                 `json:"datetime,omitempty"`
	UUID            string                 `json:"uuid,omitempty"`
	EventProperties map[string]interface{} `json:"event_properties,omitempty"`
}

// ProfileAttributes are the attributes of a profile resource.
type ProfileAttributes struct {
	Email        string                 `json:"email,omitempty"`
	PhoneNumber  string                 `json:"phone_number,omitempty"`
	ExternalID   string                 `json:"external_id,omitempty"`
	FirstName    string                 `json:"first_name,omitempty"`
	LastName     string                 `json:"last_name,omitempty"`
	Organization string                 `json:"organization,omitempty"`
	Location     map[string]interface{} `json:"location,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	Created      string                 `json:"created,omitempty"`
	Updated      string                 `json:"updated,omitempty"`
}

// MetricAttributes are the attributes of a metric resource.
type MetricAttributes struct {
	Name        string                 `json:"name"`
	Created     string                 `json:"created,omitempty"`
	Updated     string                 `json:"updated,omitempty"`
	Integration map[string]interface{} `json:"integration,omitempty"`
}

type (
	Event   = Resource[EventAttributes]
	Profile = Resource[ProfileAttributes]
	Metric  = Resource[MetricAttributes]
)

// NewEvent is the input to CreateEvent.
type NewEvent struct {
	MetricName    string
	Profile       map[string]interface{}
	Properties    map[string]interface{}
	Time          string
	Value         *float64
	ValueCurrency string
	UniqueID      string
}
