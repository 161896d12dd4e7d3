//go:build linux

// Package uring is the async file-read engine (spec §4.2 "start-async /
// continue-async / drain-async"): it issues kernel-asynchronous reads
// against an open file and delivers completions through a notification
// descriptor whose readable byte-count encodes pending completions.
//
// It is grounded on the same technique as the pack's cgo+liburing reference
// (tailscale's net/uring), adapted from UDP send/recv rings down to the
// single-read-in-flight shape spec §3 requires: one ring, one in-flight
// read, per connection.
package uring

/*
#cgo pkg-config: liburing
#cgo LDFLAGS: -luring
#include <stdlib.h>
#include "shim.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrSubmitFailed means the kernel rejected or could not accept the read
// submission. Per spec §4.2, the caller tears down the in-flight state and
// restarts the cycle on this error.
var ErrSubmitFailed = errors.New("uring: submit failed")

// Engine is the subset of Ring's behavior the connection state machine
// drives. Extracted so the state machine can be exercised with a fake in
// place of a kernel io_uring instance.
type Engine interface {
	NotifyFD() int
	SubmitRead(fd int, buf []byte, offset int64, userData uint64) error
	DrainNotification() (count uint64, err error)
	Reap() (userData uint64, res int32, ok bool, err error)
	Close() error
}

var _ Engine = (*Ring)(nil)

// Ring is one connection's async I/O context plus its notification
// descriptor. Exactly one exists per connection with a dynamic resource in
// flight, created lazily and destroyed with the connection — never shared
// across connections (spec §9 redesign note).
type Ring struct {
	cring   *C.filed_ring
	eventFD int
}

// Open creates a ring with a registered eventfd notification descriptor.
// entries is the io_uring queue depth; one is always sufficient here since
// at most one read is ever in flight, but a small power-of-two is requested
// so the kernel doesn't reject the setup on older releases.
func Open(entries uint32) (*Ring, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("uring: eventfd: %w", err)
	}

	var errbuf [256]C.char
	cring := C.filed_ring_open(C.uint(entries), C.int(efd), &errbuf[0], C.int(len(errbuf)))
	if cring == nil {
		unix.Close(efd)
		return nil, fmt.Errorf("uring: queue_init/register_eventfd: %s", C.GoString(&errbuf[0]))
	}

	return &Ring{cring: cring, eventFD: efd}, nil
}

// NotifyFD is the notification descriptor to register with the readiness
// multiplexer for read interest.
func (r *Ring) NotifyFD() int { return r.eventFD }

// SubmitRead issues a read of len(buf) bytes from fd at offset. userData is
// echoed back unchanged by Reap so callers can correlate completions; since
// only one read is ever in flight per ring, callers may pass any constant.
func (r *Ring) SubmitRead(fd int, buf []byte, offset int64, userData uint64) error {
	if len(buf) == 0 {
		return fmt.Errorf("uring: empty read buffer")
	}
	rc := C.filed_ring_submit_read(
		r.cring,
		C.int(fd),
		unsafe.Pointer(&buf[0]),
		C.uint(len(buf)),
		C.int64_t(offset),
		C.uint64_t(userData),
	)
	if rc < 0 {
		return ErrSubmitFailed
	}
	return nil
}

// DrainNotification reads the 8-byte completion counter off the
// notification descriptor (spec §4.2 "drain-async"). A non-zero count means
// at least one completion is ready to be reaped.
func (r *Ring) DrainNotification() (count uint64, err error) {
	var buf [8]byte
	n, err := unix.Read(r.eventFD, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, fmt.Errorf("uring: read eventfd: %w", err)
	}
	if n != 8 {
		return 0, fmt.Errorf("uring: short eventfd read: %d bytes", n)
	}
	for i := 0; i < 8; i++ {
		count |= uint64(buf[i]) << (8 * uint(i))
	}
	return count, nil
}

// Reap retrieves one completion queue entry. ok is false when no completion
// is pending yet (should not happen immediately after a non-zero
// DrainNotification, but is not itself an error).
func (r *Ring) Reap() (userData uint64, res int32, ok bool, err error) {
	var cUserData C.uint64_t
	var cRes C.int32_t
	rc := C.filed_ring_peek_cqe(r.cring, &cUserData, &cRes)
	switch {
	case rc < 0:
		return 0, 0, false, fmt.Errorf("uring: peek_cqe: errno %d", -rc)
	case rc == 0:
		return 0, 0, false, nil
	default:
		return uint64(cUserData), int32(cRes), true, nil
	}
}

// Close destroys the ring and closes the eventfd. Per spec §9, callers must
// deregister the notification descriptor from the multiplexer before
// calling Close (remove-then-close).
func (r *Ring) Close() error {
	C.filed_ring_close(r.cring)
	return unix.Close(r.eventFD)
}
