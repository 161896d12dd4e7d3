//go:build linux

// Package sendfile wraps the sendfile(2) zero-copy transfer used to serve
// static resources (spec §4.2 "send-static", GLOSSARY "Zero-copy transfer").
//
// badu-http's response_server.go reaches the same syscall indirectly through
// *net.TCPConn's io.ReaderFrom when copying from a regular file; here the
// connection is driven by hand from raw fds, so the syscall is called
// directly instead.
package sendfile

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned when the socket is not ready to accept more
// bytes right now. It is not a fatal error — spec §4.2 retains phase and
// re-arms interest on would-block.
var ErrWouldBlock = errors.New("sendfile: would block")

// Transfer sends up to count bytes from fileFD, starting at offset, to
// sockFD. It returns the number of bytes actually transferred. A partial
// transfer is not an error; ErrWouldBlock is returned only when zero bytes
// moved because the socket buffer is full.
func Transfer(sockFD, fileFD int, offset int64, count int) (int, error) {
	if count == 0 {
		return 0, nil
	}
	off := offset
	n, err := unix.Sendfile(sockFD, fileFD, &off, count)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}
