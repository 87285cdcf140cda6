package klaviyo

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Equals renders equals(field,"value").
func Equals(field, value string) string {
	return fmt.Sprintf("equals(%s,%s)", field, strconv.Quote(value))
}

// GreaterOrEqual renders an inclusive lower time bound.
func GreaterOrEqual(field string, t time.Time) string {
	return fmt.Sprintf("greater-or-equal(%s,%s)", field, t.UTC().Format(time.RFC3339Nano))
}

// LessThan renders an exclusive upper time bound.
func LessThan(field string, t time.Time) string {
	return fmt.Sprintf("less-than(%s,%s)", field, t.UTC().Format(time.RFC3339Nano))
}

// And joins predicates with commas, dropping empty ones.
func And(predicates ...string) string {
	kept := predicates[:0:0]
	for _, p := range predicates {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ",")
}
