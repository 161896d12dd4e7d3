//go:build linux

package server

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu-labs/filed/internal/classify"
	"github.com/badu-labs/filed/internal/epoll"
	"github.com/badu-labs/filed/internal/serverlog"
	"github.com/badu-labs/filed/internal/uring"
)

// fakeRing is a uring.Engine double that completes every submitted read
// synchronously, so the state machine can be driven through
// AsyncOngoing/drainAsync without a kernel io_uring instance.
type fakeRing struct {
	notifyFD int

	pendingRes   int32
	pendingReady bool
	reapErr      error

	drainCount uint64

	closed bool
}

func (f *fakeRing) NotifyFD() int { return f.notifyFD }

func (f *fakeRing) SubmitRead(fd int, buf []byte, offset int64, userData uint64) error {
	n := copy(buf, fakeFileContents[offset:])
	f.pendingRes = int32(n)
	f.pendingReady = true
	f.drainCount = 1
	return nil
}

func (f *fakeRing) DrainNotification() (uint64, error) {
	c := f.drainCount
	f.drainCount = 0
	return c, nil
}

func (f *fakeRing) Reap() (userData uint64, res int32, ok bool, err error) {
	if f.reapErr != nil {
		return 0, 0, false, f.reapErr
	}
	if !f.pendingReady {
		return 0, 0, false, nil
	}
	f.pendingReady = false
	return asyncReadTag, f.pendingRes, true, nil
}

func (f *fakeRing) Close() error {
	f.closed = true
	return nil
}

var _ uring.Engine = (*fakeRing)(nil)

// fakeFileContents backs SubmitRead's copy; individual tests size fileSize
// to stay within it.
var fakeFileContents = make([]byte, 16384)

// newDynamicConn builds a Conn wired to a real file and a real poller (so
// epoll registration calls succeed) but with openRing swapped for a fake
// engine, so the async pipeline runs without a kernel io_uring instance.
func newDynamicConn(t *testing.T, fileSize int64) (*Conn, *fakeRing) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dynamic"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dynamic", "feed"), fakeFileContents[:fileSize], 0o644))

	f, err := os.Open(filepath.Join(dir, "dynamic", "feed"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	poller, err := epoll.New()
	require.NoError(t, err)
	t.Cleanup(func() { poller.Close() })

	log, err := serverlog.New()
	require.NoError(t, err)

	sockR, sockW, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { sockR.Close(); sockW.Close() })

	notifyR, notifyW, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { notifyR.Close(); notifyW.Close() })

	c := &Conn{
		id:       serverlog.ConnID(),
		poller:   poller,
		log:      log,
		sockFD:   int(sockW.Fd()),
		fileFD:   int(f.Fd()),
		phase:    SendingHeader,
		kind:     classify.Dynamic,
		fileSize: fileSize,
	}
	require.NoError(t, poller.AddRead(c.sockFD, c))

	fake := &fakeRing{notifyFD: int(notifyR.Fd())}
	restore := openRing
	openRing = func(uint32) (uring.Engine, error) { return fake, nil }
	t.Cleanup(func() { openRing = restore })

	return c, fake
}

func TestAsyncPipeline_DrivesThroughSendingData(t *testing.T) {
	const size = 100
	c, _ := newDynamicConn(t, size)
	c.sendLen = 0 // header already "sent" for this test's purposes

	c.startAsync()
	require.Equal(t, AsyncOngoing, c.Phase())
	require.NotNil(t, c.ring)

	c.drainAsync()
	require.Equal(t, SendingData, c.Phase())
	require.Equal(t, int64(size), c.fileOffset)
	require.Equal(t, size, c.sendLen)
	require.Nil(t, c.ring, "ring is destroyed once the whole file has been read")
}

func TestAsyncPipeline_ExactBufferSizeFile(t *testing.T) {
	c, _ := newDynamicConn(t, 4096)
	c.startAsync()
	c.drainAsync()
	require.Equal(t, int64(4096), c.fileOffset)
	require.Equal(t, SendingData, c.Phase())
	require.Nil(t, c.ring)
}

func TestAsyncPipeline_BufferPlusOneRequiresTwoReads(t *testing.T) {
	c, _ := newDynamicConn(t, 4097)
	c.startAsync()
	require.Equal(t, AsyncOngoing, c.Phase())

	c.drainAsync()
	require.Equal(t, SendingData, c.Phase())
	require.Equal(t, int64(4096), c.fileOffset)
	require.NotNil(t, c.ring, "ring survives: one byte still unread")

	// Simulate the staged chunk having been flushed, then continue.
	c.sendLen = 0
	c.startAsync()
	require.Equal(t, AsyncOngoing, c.Phase())

	c.drainAsync()
	require.Equal(t, SendingData, c.Phase())
	require.Equal(t, int64(4097), c.fileOffset)
	require.Equal(t, 1, c.sendLen)
	require.Nil(t, c.ring)
}

func TestAsyncPipeline_SpuriousWakeStaysAsyncOngoing(t *testing.T) {
	c, fake := newDynamicConn(t, 10)
	c.startAsync()
	fake.drainCount = 0 // simulate a wake with nothing to reap yet
	fake.pendingReady = false

	c.drainAsync()
	require.Equal(t, AsyncOngoing, c.Phase())
}

func TestAsyncPipeline_ZeroByteDynamicFileClosesWithoutSubmitting(t *testing.T) {
	c, fake := newDynamicConn(t, 0)
	c.phase = SendingHeader
	c.sendLen = 0

	c.Handle(epoll.Event{})
	require.Equal(t, Closed, c.Phase())
	require.False(t, fake.pendingReady, "no read was ever submitted")
	require.Nil(t, c.ring)
}

func TestAsyncPipeline_ReapErrorCloses(t *testing.T) {
	c, fake := newDynamicConn(t, 10)
	c.startAsync()
	fake.reapErr = io.ErrUnexpectedEOF

	c.drainAsync()
	require.Equal(t, Closed, c.Phase())
}
