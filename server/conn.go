//go:build linux

package server

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/badu-labs/filed/internal/classify"
	"github.com/badu-labs/filed/internal/config"
	"github.com/badu-labs/filed/internal/epoll"
	"github.com/badu-labs/filed/internal/reqline"
	"github.com/badu-labs/filed/internal/sendfile"
	"github.com/badu-labs/filed/internal/serverlog"
	"github.com/badu-labs/filed/internal/uring"
)

// Phase is one state of the per-connection state machine (spec §4.2).
type Phase int

const (
	Initial Phase = iota
	ReceivingData
	RequestReceived
	SendingHeader
	SendingData
	AsyncOngoing
	Sending404
	Closed
)

func (p Phase) String() string {
	switch p {
	case Initial:
		return "INITIAL"
	case ReceivingData:
		return "RECEIVING_DATA"
	case RequestReceived:
		return "REQUEST_RECEIVED"
	case SendingHeader:
		return "SENDING_HEADER"
	case SendingData:
		return "SENDING_DATA"
	case AsyncOngoing:
		return "ASYNC_ONGOING"
	case Sending404:
		return "SENDING_404"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// asyncReadTag is the single user-data value the engine submits with its one
// in-flight read; one read in flight per connection means it never needs to
// carry more information than "a read completed".
const asyncReadTag = 1

// openRing constructs the async read engine for a connection. Tests
// substitute a fake uring.Engine here to drive the state machine through
// AsyncOngoing/drainAsync without a kernel io_uring instance.
var openRing = func(entries uint32) (uring.Engine, error) { return uring.Open(entries) }

// Conn is the connection record (spec §3): the sole persistent in-memory
// entity per client, mutated only by the event-loop goroutine.
type Conn struct {
	id     string
	poller *epoll.Poller
	log    *zap.SugaredLogger

	sockFD int
	fileFD int // -1 when absent
	ring   uring.Engine

	recvBuf [config.BufSize]byte
	recvLen int

	sendBuf [config.BufSize]byte
	sendPos int
	sendLen int

	path         string
	pathParsed   bool
	resolvedPath string

	fileSize   int64
	fileOffset int64

	kind  classify.Kind
	phase Phase

	// onPhase, when set, is invoked after every transition; tests use it
	// to assert the phase sequence without racing the event loop.
	onPhase func(Phase)
}

// NewConn creates a connection record for an accepted socket and registers
// it with the poller for read readiness (spec §4.4 "creation").
func NewConn(sockFD int, poller *epoll.Poller, log *zap.SugaredLogger) (*Conn, error) {
	c := &Conn{
		id:     serverlog.ConnID(),
		poller: poller,
		log:    log,
		sockFD: sockFD,
		fileFD: -1,
		phase:  Initial,
	}
	if err := poller.AddRead(sockFD, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) setPhase(p Phase) {
	c.phase = p
	if c.onPhase != nil {
		c.onPhase(p)
	}
}

// Phase reports the connection's current state.
func (c *Conn) Phase() Phase { return c.phase }

// Handle advances the connection in response to ev (spec §4.3 dispatch
// contract). It never blocks. A receive that completes the request runs
// parse, classify, and open-file in the same call (see processRequest), so
// one call can take a connection from INITIAL or RECEIVING_DATA through
// REQUEST_RECEIVED to SENDING_HEADER or SENDING_404; the other phases move
// at most one step per call.
func (c *Conn) Handle(ev epoll.Event) {
	if ev.Err {
		c.setPhase(Closed)
		return
	}

	switch c.phase {
	case Initial, ReceivingData:
		c.receive()
		if c.phase == RequestReceived {
			c.processRequest()
		}
	case SendingHeader:
		if c.sendBuffered() {
			if c.kind == classify.Static {
				c.setPhase(SendingData)
			} else if c.fileOffset >= c.fileSize {
				c.setPhase(Closed)
			} else {
				c.startAsync()
			}
		}
	case SendingData:
		if c.kind == classify.Static {
			c.sendStatic()
		} else {
			if c.sendBuffered() {
				if c.fileOffset >= c.fileSize {
					c.setPhase(Closed)
				} else {
					c.startAsync()
				}
			}
		}
	case AsyncOngoing:
		c.drainAsync()
	case Sending404:
		if c.sendBuffered() {
			c.setPhase(Closed)
		}
	}
}

// Rearm updates the multiplexer interest to match the current phase (spec
// §4.2: read interest while INITIAL/RECEIVING_DATA/ASYNC_ONGOING — the
// latter on the client socket too, so a peer closing mid-transfer surfaces
// as a fatal event instead of spinning the writable socket; write interest
// otherwise).
func (c *Conn) Rearm() error {
	switch c.phase {
	case Initial, ReceivingData, AsyncOngoing:
		return c.poller.UpdateToRead(c.sockFD)
	case SendingHeader, SendingData, Sending404:
		return c.poller.UpdateToWrite(c.sockFD)
	default:
		return nil
	}
}

// receive reads into the receive buffer (spec §4.2 "receive").
func (c *Conn) receive() {
	if c.recvLen == len(c.recvBuf) {
		c.setPhase(RequestReceived)
		return
	}
	n, err := unix.Read(c.sockFD, c.recvBuf[c.recvLen:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			c.setPhase(ReceivingData)
			return
		}
		c.setPhase(Closed)
		return
	}
	if n == 0 {
		c.setPhase(Closed)
		return
	}
	c.recvLen += n

	if _, complete := reqline.HeadersComplete(c.recvBuf[:c.recvLen]); complete {
		c.setPhase(RequestReceived)
		return
	}
	if c.recvLen == len(c.recvBuf) {
		// Buffer full without a terminator: forced through as-is (spec §8
		// boundary behavior); Parse then fails for lack of a terminator and
		// the request routes to 404.
		c.setPhase(RequestReceived)
		return
	}
	c.setPhase(ReceivingData)
}

// processRequest runs parse, classify, and open-file synchronously — none
// of the three involve a suspension point, so they execute within the same
// wake-up that produced REQUEST_RECEIVED (spec §4.2).
func (c *Conn) processRequest() {
	path, ok := reqline.Parse(c.recvBuf[:c.recvLen])
	if !ok {
		c.prepare404()
		return
	}
	c.path = path
	c.pathParsed = true

	kind, resolved := classify.Classify(path, config.StaticDir, config.DynamicDir)
	c.kind = kind
	if kind == classify.None {
		c.prepare404()
		return
	}
	c.resolvedPath = resolved

	fd, err := unix.Open(resolved, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		c.prepare404()
		return
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		c.prepare404()
		return
	}

	c.fileFD = fd
	c.fileSize = st.Size
	c.fileOffset = 0
	c.stageSend(buildOK(st.Size, statModTime(st)))
	c.setPhase(SendingHeader)
}

func (c *Conn) prepare404() {
	c.stageSend(build404())
	c.setPhase(Sending404)
}

// stageSend copies a fully-formed response into the send buffer (spec §3:
// send offset + remaining length never exceeds buffer capacity — callers
// only ever stage header/404 payloads, which are far smaller than
// config.BufSize).
func (c *Conn) stageSend(payload []byte) {
	n := copy(c.sendBuf[:], payload)
	c.sendPos = 0
	c.sendLen = n
}

// sendBuffered sends from the send buffer and reports whether it fully
// drained (spec §4.2 "send-buffered"). A would-block leaves phase and
// offsets untouched.
func (c *Conn) sendBuffered() bool {
	if c.sendLen == 0 {
		return true
	}
	n, err := unix.Write(c.sockFD, c.sendBuf[c.sendPos:c.sendPos+c.sendLen])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return false
		}
		c.setPhase(Closed)
		return false
	}
	c.sendPos += n
	c.sendLen -= n
	if c.sendLen == 0 {
		c.sendPos = 0
		return true
	}
	return false
}

// sendStatic issues a zero-copy transfer for the static path (spec §4.2
// "send-static").
func (c *Conn) sendStatic() {
	remaining := c.fileSize - c.fileOffset
	if remaining == 0 {
		c.setPhase(Closed)
		return
	}
	n, err := sendfile.Transfer(c.sockFD, c.fileFD, c.fileOffset, int(remaining))
	if err != nil {
		if errors.Is(err, sendfile.ErrWouldBlock) {
			return
		}
		c.setPhase(Closed)
		return
	}
	c.fileOffset += int64(n)
	if c.fileOffset >= c.fileSize {
		c.setPhase(Closed)
	}
}

// startAsync creates the async context on first use and submits the next
// read (spec §4.2 "start-async / continue-async"). On an unrecoverable
// submit failure the in-flight state is torn down and the cycle restarted
// once; a second failure is fatal.
func (c *Conn) startAsync() {
	if c.ring == nil {
		r, err := openRing(4)
		if err != nil {
			c.log.Errorw("uring open failed", serverlog.Fields(c.id, c.sockFD, c.phase.String())...)
			c.setPhase(Closed)
			return
		}
		if err := c.poller.AddRead(r.NotifyFD(), c); err != nil {
			r.Close()
			c.setPhase(Closed)
			return
		}
		c.ring = r
	}

	if !c.submitRead() {
		// Tear down and retry once; a second failure is fatal.
		c.destroyRing()
		if c.ring == nil {
			r, err := openRing(4)
			if err != nil {
				c.setPhase(Closed)
				return
			}
			if err := c.poller.AddRead(r.NotifyFD(), c); err != nil {
				r.Close()
				c.setPhase(Closed)
				return
			}
			c.ring = r
		}
		if !c.submitRead() {
			c.setPhase(Closed)
			return
		}
	}
	c.setPhase(AsyncOngoing)
}

// nextChunkSize is the min(buffer-capacity, file-size - file-offset)
// calculation from spec §4.2 "start-async", pulled out as a pure function
// so it is directly testable without a kernel async-I/O engine.
func nextChunkSize(bufSize int, fileSize, fileOffset int64) int {
	remaining := fileSize - fileOffset
	if remaining < int64(bufSize) {
		return int(remaining)
	}
	return bufSize
}

func (c *Conn) submitRead() bool {
	want := nextChunkSize(config.BufSize, c.fileSize, c.fileOffset)
	if want == 0 {
		return true
	}
	err := c.ring.SubmitRead(c.fileFD, c.sendBuf[:want], c.fileOffset, asyncReadTag)
	return err == nil
}

// drainAsync handles the notification wake-up (spec §4.2 "drain-async").
func (c *Conn) drainAsync() {
	count, err := c.ring.DrainNotification()
	if err != nil {
		c.setPhase(Closed)
		return
	}
	if count == 0 {
		return // spurious wake; stay ASYNC_ONGOING
	}

	_, res, ok, err := c.ring.Reap()
	if err != nil {
		c.setPhase(Closed)
		return
	}
	if !ok || res < 0 {
		c.setPhase(Closed)
		return
	}

	n := int64(res)
	c.sendPos = 0
	c.sendLen = int(n)
	c.fileOffset += n

	if c.fileOffset >= c.fileSize {
		c.destroyRing()
	}
	c.setPhase(SendingData)
}

func (c *Conn) destroyRing() {
	if c.ring == nil {
		return
	}
	c.poller.Remove(c.ring.NotifyFD())
	c.ring.Close()
	c.ring = nil
}

// Destroy releases every owned descriptor exactly once and the async
// context if present (spec §4.4). The poller must have been told to drop
// the descriptors before they are closed — remove, then close (spec §9).
func (c *Conn) Destroy() {
	c.destroyRing()
	c.poller.Remove(c.sockFD)
	unix.Close(c.sockFD)
	if c.fileFD >= 0 {
		unix.Close(c.fileFD)
		c.fileFD = -1
	}
}
