// Package config holds the server's build-time constants.
//
// The external interface is deliberately flag-free (spec §6): the listening
// port and every buffer size are compiled in rather than read from a file,
// environment, or CLI flag library.
package config

const (
	// Port is the TCP port the listener binds to.
	Port = 8080

	// Backlog is the listen(2) backlog passed to the bootstrap listener.
	Backlog = 1024

	// MaxConns bounds concurrent connections the event loop will service.
	// Beyond this the accept branch still accepts (so the backlog doesn't
	// back up) but answers with a 503 and closes immediately.
	MaxConns = 4096

	// BufSize is the capacity of both the fixed receive buffer and the
	// fixed send buffer carried by every connection record.
	BufSize = 4096

	// StaticDir and DynamicDir are the two sibling directories under the
	// process's working directory that classification matches against.
	StaticDir  = "/static/"
	DynamicDir = "/dynamic/"

	// ServerToken is the literal Server header value.
	ServerToken = "Apache/2.2.9"

	// MaxEvents bounds how many events a single multiplexer wait drains.
	MaxEvents = 256
)
