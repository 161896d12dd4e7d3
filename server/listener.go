//go:build linux

package server

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/badu-labs/filed/internal/config"
)

// Listen is the listener bootstrap (spec §4, "Listener bootstrap") on the
// build-time configured port. Failure here is a fatal-setup error (spec
// §7) — callers are expected to abort the process.
func Listen() (int, error) {
	return ListenOn(config.Port)
}

// ListenOn is Listen parameterized over the port. The external interface
// (spec §6) never exposes this as a flag — it exists so tests can bind an
// ephemeral port instead of colliding on the compiled-in default.
func ListenOn(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("listen: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: reuseaddr: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: bind: %w", err)
	}
	if err := unix.Listen(fd, config.Backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: listen: %w", err)
	}
	return fd, nil
}

// Addr returns the address a listening fd bound to, so callers that used
// port 0 (ephemeral) can discover what the kernel picked.
func Addr(listenFD int) (*unix.SockaddrInet4, error) {
	sa, err := unix.Getsockname(listenFD)
	if err != nil {
		return nil, err
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, fmt.Errorf("listen: unexpected sockaddr type %T", sa)
	}
	return in4, nil
}

// acceptOne accepts a single pending connection as non-blocking and, per
// the teacher's tcpKeepAliveListener, turns on TCP keepalive. This is
// unrelated to HTTP keep-alive (out of scope, spec §1) — it governs
// whether the kernel notices a half-open peer.
func acceptOne(listenFD int) (int, error) {
	connFD, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, err
	}
	_ = unix.SetsockoptInt(connFD, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	return connFD, nil
}
