// Package classify decides, from a request path, whether a resource is
// static, dynamic, or absent (spec §4.2 "classify", §6 filesystem layout).
package classify

import "strings"

// Kind is a connection's resource classification.
type Kind int

const (
	None Kind = iota
	Static
	Dynamic
)

func (k Kind) String() string {
	switch k {
	case Static:
		return "STATIC"
	case Dynamic:
		return "DYNAMIC"
	default:
		return "NONE"
	}
}

// Classify matches path against the configured static and dynamic prefixes
// by substring match, per spec §6 ("classification is by substring match on
// the requested path"). It returns the resolved filesystem path — the
// request path prefixed with "." — alongside the classification.
func Classify(path, staticPrefix, dynamicPrefix string) (kind Kind, resolved string) {
	switch {
	case strings.Contains(path, staticPrefix):
		return Static, "." + path
	case strings.Contains(path, dynamicPrefix):
		return Dynamic, "." + path
	default:
		return None, ""
	}
}
