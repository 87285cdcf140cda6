package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// MaxBodyBytes bounds inbound JSON bodies.
const MaxBodyBytes = 4 << 20

// DateLayout is the calendar-day format accepted on query strings.
const DateLayout = "2006-01-02"

// ParseIntParam parses an integer query parameter with a default value.
// Returns defaultVal if the parameter is empty, and an error if it is not an integer.
//
// Example:
//
//	pageSize, err := httputil.ParseIntParam(r.URL.Query().Get("pageSize"), 100)
func ParseIntParam(s string, defaultVal int) (int, error) {
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// ParseDateParam parses a YYYY-MM-DD or RFC3339 value as a UTC instant.
// An empty string yields nil.
func ParseDateParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(DateLayout, s, time.UTC); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	t = t.UTC()
	return &t, nil
}

// DecodeJSON decodes a bounded request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	body := io.LimitReader(r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
