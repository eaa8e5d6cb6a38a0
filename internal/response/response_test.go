package response

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		status Status
		text   string
		code   int
	}{
		{OK, "200 OK", 200},
		{NotFound, "404 NOT FOUND", 404},
		{BadRequest, "400 BAD REQUEST", 400},
		{InternalServerError, "500 INTERNAL SERVER ERROR", 500},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.text, tc.status.String())
		assert.Equal(t, tc.code, tc.status.Code())
	}
	assert.Equal(t, "Status(42)", Status(42).String())
	assert.Zero(t, Status(42).Code())
}

func TestResponseBytesExact(t *testing.T) {
	t.Parallel()

	resp := New(OK, []byte("Test body"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 9\r\n\r\nTest body", string(resp.Bytes()))
}

func TestResponseEmptyBody(t *testing.T) {
	t.Parallel()

	resp := New(NotFound, nil)
	assert.Equal(t, "HTTP/1.1 404 NOT FOUND\r\nContent-Length: 0\r\n\r\n", string(resp.Bytes()))
}

func TestResponseContentLengthCountsBytes(t *testing.T) {
	t.Parallel()

	// "héllo" is five runes but six bytes.
	resp := New(OK, []byte("héllo"))
	assert.Contains(t, string(resp.Bytes()), "Content-Length: 6\r\n")
}

func TestResponseIsImmutable(t *testing.T) {
	t.Parallel()

	body := []byte("abc")
	resp := New(OK, body)
	body[0] = 'x'
	got := resp.Body()
	got[1] = 'y'

	assert.Equal(t, []byte("abc"), resp.Body())
	assert.Equal(t, OK, resp.Status())
}

func TestResponseWriteTo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	resp := New(BadRequest, nil)
	n, err := resp.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.Equal(t, "HTTP/1.1 400 BAD REQUEST\r\nContent-Length: 0\r\n\r\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestResponseWriteToError(t *testing.T) {
	t.Parallel()

	_, err := New(OK, []byte("x")).WriteTo(failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write response: broken pipe")
}
