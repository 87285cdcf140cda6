package klaviyo

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRemoteUnavailable matches transport failures, 429 and 5xx responses
	// that survived every retry.
	ErrRemoteUnavailable = errors.New("klaviyo: remote unavailable")

	// ErrRemoteRejected matches 4xx responses other than 429.
	ErrRemoteRejected = errors.New("klaviyo: request rejected")

	// ErrPageLimit is returned when a collection needs more pages than MaxPages allows.
	ErrPageLimit = errors.New("klaviyo: page limit exceeded")
)

// Error describes a failed call to the Klaviyo API.
type Error struct {
	Method string
	Path   string
	// Status is 0 when no response was received.
	Status int
	// Body is the decoded JSON error document, or the raw text when it is not JSON.
	Body interface{}
	Err  error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("klaviyo %s %s: %v", e.Method, e.Path, e.Err)
	}
	if detail := e.detail(); detail != "" {
		return fmt.Sprintf("klaviyo %s %s: status %d: %s", e.Method, e.Path, e.Status, detail)
	}
	return fmt.Sprintf("klaviyo %s %s: status %d", e.Method, e.Path, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps the error onto ErrRemoteUnavailable or ErrRemoteRejected.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRemoteUnavailable:
		return e.Transient()
	case ErrRemoteRejected:
		return !e.Transient()
	}
	return false
}

// Transient reports whether the failure qualifies for a retry.
func (e *Error) Transient() bool {
	return isRetryableStatus(e.Status)
}

// StatusCode returns the upstream HTTP status, 0 if there was none.
func (e *Error) StatusCode() int { return e.Status }

// RemoteBody returns the upstream error document, if any.
func (e *Error) RemoteBody() interface{} { return e.Body }

func (e *Error) detail() string {
	doc, ok := e.Body.(map[string]interface{})
	if !ok {
		if s, ok := e.Body.(string); ok {
			return s
		}
		return ""
	}
	errs, _ := doc["errors"].([]interface{})
	if len(errs) == 0 {
		return ""
	}
	first, _ := errs[0].(map[string]interface{})
	if d, ok := first["detail"].(string); ok {
		return d
	}
	if t, ok := first["title"].(string); ok {
		return t
	}
	return ""
}

func isRetryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}
