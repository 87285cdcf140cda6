package logging

import "log/slog"

// Field names shared by every component so log queries stay stable.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldError     = "error"
	FieldAttempt   = "attempt"
	FieldMetric    = "metric"
	FieldProfileID = "profile_id"
	FieldEventName = "event_name"
	FieldCursor    = "cursor"
	FieldCount     = "count"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for a request path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Metric returns a slog attribute for a metric name or id.
func Metric(name string) slog.Attr {
	return slog.String(FieldMetric, name)
}

// ProfileID returns a slog attribute for a remote profile id.
func ProfileID(id string) slog.Attr {
	return slog.String(FieldProfileID, id)
}

// EventName returns a slog attribute for an outbound event name.
func EventName(name string) slog.Attr {
	return slog.String(FieldEventName, name)
}

// Cursor returns a slog attribute for a pagination cursor.
func Cursor(c string) slog.Attr {
	return slog.String(FieldCursor, c)
}

// Count returns a slog attribute for a number of items.
func Count(n int64) slog.Attr {
	return slog.Int64(FieldCount, n)
}
