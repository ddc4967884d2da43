package pgwire

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandCompleteEncodesRowCountTag(t *testing.T) {
	msg := commandComplete(3)
	assert.Equal(t, byte('C'), msg[0])
	assert.Contains(t, string(msg), "SELECT 3")
}

func TestErrorResponseEncodesMessage(t *testing.T) {
	msg := errorResponse(errors.New("boom"))
	assert.Equal(t, byte('E'), msg[0])
	assert.Contains(t, string(msg), "boom")
}

func TestAuthOKMessageIsFixedShape(t *testing.T) {
	msg := authOKMessage()
	require.Len(t, msg, 9)
	assert.Equal(t, byte('R'), msg[0])
}

type fakeHandler struct {
	rows [][]interface{}
	err  error
}

func (h *fakeHandler) Query(ctx context.Context, sql string) ([][]interface{}, error) {
	return h.rows, h.err
}

func writeStartupMessage(t *testing.T, conn net.Conn) {
	t.Helper()
	payload := []byte{0, 3, 0, 0} // protocol version, no params
	var buf []byte
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(4+len(payload)))
	buf = append(buf, lenBuf...)
	buf = append(buf, payload...)
	_, err := conn.Write(buf)
	require.NoError(t, err)
}

func writeSimpleQuery(t *testing.T, conn net.Conn, sql string) {
	t.Helper()
	body := append([]byte(sql), 0)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(4+len(body)))
	var buf []byte
	buf = append(buf, 'Q')
	buf = append(buf, lenBuf...)
	buf = append(buf, body...)
	_, err := conn.Write(buf)
	require.NoError(t, err)
}

func TestServerHandshakeThenSimpleQueryReturnsCommandComplete(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := NewServer(&fakeHandler{rows: [][]interface{}{{1}, {2}}})
	go srv.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	writeStartupMessage(t, conn)

	r := bufio.NewReader(conn)
	authByte, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('R'), authByte)
	_, err = r.Discard(8)
	require.NoError(t, err)

	writeSimpleQuery(t, conn, "SELECT 1")

	msgType, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('C'), msgType)
}
