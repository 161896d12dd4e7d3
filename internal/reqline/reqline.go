// Package reqline is the HTTP parser adapter (spec §6): it extracts the
// request-line path from a buffered request and reports success or failure.
// Nothing else in the request is interpreted — there are no request bodies,
// no persistent connections, and no header values the server acts on.
package reqline

import (
	"bytes"
	"strings"
)

// terminator marks the end of the header block.
var terminator = []byte("\r\n\r\n")

// HeadersComplete reports whether buf contains a full "\r\n\r\n" terminator
// and, if so, the offset immediately following it.
func HeadersComplete(buf []byte) (end int, ok bool) {
	idx := bytes.Index(buf, terminator)
	if idx < 0 {
		return 0, false
	}
	return idx + len(terminator), true
}

// Parse extracts the request-line path from buf. It requires the parser to
// consume every received byte: buf must be exactly one header block (request
// line plus headers) terminated by "\r\n\r\n", with nothing trailing it —
// a request body or a second pipelined request is a deviation and Parse
// reports failure, the way spec §4.2 "parse" mandates.
func Parse(buf []byte) (path string, ok bool) {
	end, complete := HeadersComplete(buf)
	if !complete || end != len(buf) {
		return "", false
	}

	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd < 0 {
		return "", false
	}
	fields := strings.Fields(string(buf[:lineEnd]))
	if len(fields) != 3 {
		return "", false
	}
	method, target, version := fields[0], fields[1], fields[2]
	if method == "" || !strings.HasPrefix(version, "HTTP/") {
		return "", false
	}
	if !strings.HasPrefix(target, "/") {
		return "", false
	}
	return target, true
}
