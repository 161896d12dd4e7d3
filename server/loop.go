//go:build linux

package server

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/badu-labs/filed/internal/config"
	"github.com/badu-labs/filed/internal/epoll"
	"github.com/badu-labs/filed/internal/serverlog"
)

// listenerMarker is the opaque value registered for the listening socket;
// it distinguishes listener events from connection events without a type
// switch over *Conn (spec §4.3: "if the event's opaque value identifies the
// listener descriptor...").
type listenerMarker struct{ fd int }

// Loop is the event loop (spec §4.3). It owns nothing but the poller, the
// listener, and the live connection set; all three live for the process's
// lifetime.
type Loop struct {
	poller   *epoll.Poller
	listener int
	log      *zap.SugaredLogger
	conns    map[int]*Conn
}

// NewLoop wires a Loop around an already-bound, listening, non-blocking fd.
func NewLoop(listenFD int, poller *epoll.Poller, log *zap.SugaredLogger) (*Loop, error) {
	l := &Loop{poller: poller, listener: listenFD, log: log, conns: make(map[int]*Conn)}
	if err := poller.AddRead(listenFD, listenerMarker{fd: listenFD}); err != nil {
		return nil, err
	}
	return l, nil
}

// Run waits for events until stop is closed or a fatal multiplexer error
// occurs. The multiplexer wait is the sole suspension point (spec §5).
func (l *Loop) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		ev, err := l.poller.WaitOne()
		if err != nil {
			return err
		}

		switch opaque := ev.Opaque.(type) {
		case listenerMarker:
			l.acceptLoop()
		case *Conn:
			l.dispatch(opaque, ev)
		}
	}
}

// acceptLoop drains every pending connection on one listener-readable
// event, accepting until the listener reports EAGAIN rather than taking
// one connection per wake-up.
func (l *Loop) acceptLoop() {
	for {
		connFD, err := acceptOne(l.listener)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			l.log.Warnw("accept failed", "err", err)
			return
		}

		if len(l.conns) >= config.MaxConns {
			l.rejectOverCapacity(connFD)
			continue
		}

		c, err := NewConn(connFD, l.poller, l.log)
		if err != nil {
			l.log.Warnw("register new connection failed", "err", err)
			unix.Close(connFD)
			continue
		}
		l.conns[connFD] = c
	}
}

// rejectOverCapacity answers a 503 and closes immediately rather than
// leaving the connection half-registered (spec §9 redesign note: a
// configurable connection cap).
func (l *Loop) rejectOverCapacity(connFD int) {
	resp := build503()
	for written := 0; written < len(resp); {
		n, err := unix.Write(connFD, resp[written:])
		if err != nil {
			break
		}
		written += n
	}
	unix.Close(connFD)
}

// dispatch hands one event to the state machine, then either destroys the
// connection or re-registers its interest (spec §4.3).
func (l *Loop) dispatch(c *Conn, ev epoll.Event) {
	c.Handle(ev)
	if c.Phase() == Closed {
		delete(l.conns, c.sockFD)
		c.Destroy()
		return
	}
	if err := c.Rearm(); err != nil {
		fields := append(serverlog.Fields(c.id, c.sockFD, c.Phase().String()), "err", err)
		l.log.Warnw("rearm failed, closing connection", fields...)
		delete(l.conns, c.sockFD)
		c.Destroy()
	}
}
