package reqline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_StaticHit(t *testing.T) {
	req := "GET /static/index.html HTTP/1.1\r\nHost: x\r\n\r\n"
	path, ok := Parse([]byte(req))
	require.True(t, ok)
	require.Equal(t, "/static/index.html", path)
}

func TestParse_RejectsTrailingBytes(t *testing.T) {
	req := "GET /static/index.html HTTP/1.1\r\nHost: x\r\n\r\nGARBAGE"
	_, ok := Parse([]byte(req))
	require.False(t, ok, "a body or pipelined request is a deviation, not a valid parse")
}

func TestParse_RejectsMissingTerminator(t *testing.T) {
	req := "GET /static/index.html HTTP/1.1\r\nHost: x\r\n"
	_, ok := Parse([]byte(req))
	require.False(t, ok)
}

func TestParse_RejectsMalformedRequestLine(t *testing.T) {
	req := "GET /static/index.html\r\nHost: x\r\n\r\n"
	_, ok := Parse([]byte(req))
	require.False(t, ok)
}

func TestParse_RejectsNonAbsolutePath(t *testing.T) {
	req := "GET static/index.html HTTP/1.1\r\nHost: x\r\n\r\n"
	_, ok := Parse([]byte(req))
	require.False(t, ok)
}

func TestHeadersComplete_Fragmented(t *testing.T) {
	partial := []byte("GET /static/index.html HTTP/1.1\r\nHost: x\r\n")
	_, ok := HeadersComplete(partial)
	require.False(t, ok)

	full := append(append([]byte{}, partial...), '\r', '\n')
	end, ok := HeadersComplete(full)
	require.True(t, ok)
	require.Equal(t, len(full), end)
}
