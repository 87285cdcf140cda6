package klaviyo

import "time"

// Window bounds a query on event time: [Start, End). Nil ends are open.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Day returns the [day, day+24h) window for the UTC calendar day containing t.
func Day(t time.Time) Window {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	return Window{Start: &start, End: &end}
}

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool {
	return w.Start == nil && w.End == nil
}
