//go:build linux

// Package epoll is the readiness multiplexer wrapper (spec §4.1): register,
// update, and remove descriptors for read or write interest, and wait for
// one event at a time. Level-triggered semantics are assumed throughout —
// EPOLLET is never set, matching spec §4.1's stated assumption.
package epoll

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/badu-labs/filed/internal/config"
)

// Opaque is the back-reference a caller associates with a registered
// descriptor. Per spec §9, this is a back-reference for lookup only — the
// Poller does not take ownership of it.
type Opaque interface{}

// Poller owns the epoll instance fd and the fd->Opaque registry used to
// resolve wait results back to callers. The registry exists because Go's
// unix.EpollEvent carries only a plain int32 fd in its data union, not an
// arbitrary pointer.
type Poller struct {
	epfd    int
	opaques map[int32]Opaque
	pending []Event
}

// New creates the epoll instance. Failure here is a fatal-setup error
// (spec §7): the caller aborts the process rather than handling it as a
// per-connection fault.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll: create: %w", err)
	}
	return &Poller{epfd: fd, opaques: make(map[int32]Opaque)}, nil
}

// Close releases the epoll instance. It does not touch registered
// descriptors — those are owned by their connection records.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

func (p *Poller) add(fd int, events uint32, opaque Opaque) error {
	p.opaques[int32(fd)] = opaque
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		delete(p.opaques, int32(fd))
		return fmt.Errorf("epoll: add fd %d: %w", fd, err)
	}
	return nil
}

func (p *Poller) update(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll: mod fd %d: %w", fd, err)
	}
	return nil
}

// AddRead registers fd for read readiness.
func (p *Poller) AddRead(fd int, opaque Opaque) error { return p.add(fd, unix.EPOLLIN, opaque) }

// AddWrite registers fd for write readiness.
func (p *Poller) AddWrite(fd int, opaque Opaque) error { return p.add(fd, unix.EPOLLOUT, opaque) }

// UpdateToRead switches an already-registered fd to read interest.
func (p *Poller) UpdateToRead(fd int) error { return p.update(fd, unix.EPOLLIN) }

// UpdateToWrite switches an already-registered fd to write interest.
func (p *Poller) UpdateToWrite(fd int) error { return p.update(fd, unix.EPOLLOUT) }

// Remove deregisters fd. Per spec §9 ("the multiplexer must have been
// informed of removal before any descriptor is closed"), callers must call
// Remove before closing fd — Remove itself never closes anything.
func (p *Poller) Remove(fd int) error {
	delete(p.opaques, int32(fd))
	// Older kernels require a non-nil event pointer even for EPOLL_CTL_DEL.
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{}); err != nil {
		return fmt.Errorf("epoll: remove fd %d: %w", fd, err)
	}
	return nil
}

// Event is one readiness notification: the bitmask reported by the kernel
// and the opaque value registered for that descriptor.
type Event struct {
	Readable bool
	Writable bool
	Err      bool
	Opaque   Opaque
}

// WaitOne blocks until at least one event is ready and returns one decoded
// event at a time. It is the sole suspension point in the event loop (spec
// §5): a single EpollWait call drains up to config.MaxEvents readiness
// notifications, queued internally and handed out one per call so the
// dispatch contract (spec §4.3: advance one connection per Handle call)
// never has to change shape.
func (p *Poller) WaitOne() (Event, error) {
	for {
		if len(p.pending) > 0 {
			ev := p.pending[0]
			p.pending = p.pending[1:]
			return ev, nil
		}

		var raw [config.MaxEvents]unix.EpollEvent
		n, err := unix.EpollWait(p.epfd, raw[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return Event{}, fmt.Errorf("epoll: wait: %w", err)
		}
		if n == 0 {
			continue
		}

		for _, ev := range raw[:n] {
			opaque, ok := p.opaques[ev.Fd]
			if !ok {
				// Registration raced with removal; drop the stale event.
				continue
			}
			p.pending = append(p.pending, Event{
				Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				Writable: ev.Events&unix.EPOLLOUT != 0,
				Err:      ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
				Opaque:   opaque,
			})
		}
	}
}
