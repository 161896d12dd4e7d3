// Package httpdate formats wall-clock instants as RFC 1123 dates in GMT,
// the way badu-http's types_server.go hard-codes "GMT" instead of relying
// on the zone abbreviation %Z would otherwise print.
package httpdate

import "time"

// TimeFormat is RFC 1123 with a literal "GMT" instead of a zone name.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Format renders t (converted to UTC) as an HTTP date header value.
func Format(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Now renders the current instant.
func Now() string {
	return Format(time.Now())
}
