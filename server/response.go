//go:build linux

package server

import (
	"strconv"
	"time"

	"github.com/badu-labs/filed/internal/config"
	"github.com/badu-labs/filed/internal/httpdate"
)

// buildOK formats the literal 200 response header (spec §6), in the exact
// line order the wire protocol demands. It never touches the body — bodies
// are sent separately by send-static or send-buffered.
func buildOK(size int64, modTime time.Time) []byte {
	b := make([]byte, 0, 256)
	b = append(b, "HTTP/1.1 200 OK\r\n"...)
	b = append(b, "Date: "...)
	b = append(b, httpdate.Now()...)
	b = append(b, "\r\n"...)
	b = append(b, "Server: "...)
	b = append(b, config.ServerToken...)
	b = append(b, "\r\n"...)
	b = append(b, "Last-Modified: "...)
	b = append(b, httpdate.Format(modTime)...)
	b = append(b, "\r\n"...)
	b = append(b, "Accept-Ranges: bytes\r\n"...)
	b = append(b, "Vary: Accept-Encoding\r\n"...)
	b = append(b, "Connection: close\r\n"...)
	b = append(b, "Content-Type: text/html\r\n"...)
	b = append(b, "Content-Length: "...)
	b = strconv.AppendInt(b, size, 10)
	b = append(b, "\r\n\r\n"...)
	return b
}

// build404 formats the minimal 404 response (spec §6). Body is always
// empty.
func build404() []byte {
	return []byte("HTTP/1.1 404 Not Found\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n")
}

// build503 is the rejection response issued past config.MaxConns (§9
// redesign note: reject instead of letting the backlog grow unbounded).
func build503() []byte {
	return []byte("HTTP/1.1 503 Service Unavailable\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n")
}
