package channel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridgeServer(t *testing.T) (*Bridge, *websocket.Conn) {
	t.Helper()

	up := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	b := NewBridge("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, b.Open())
	t.Cleanup(func() { b.Close() })

	return b, <-conns
}

func send(t *testing.T, conn *websocket.Conn, line string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(line+"\n")))
}

func TestBridge_ReadAfterFlush(t *testing.T) {
	b, srv := newBridgeServer(t)

	send(t, srv, "stale")
	send(t, srv, "<Idle|MPos:0.000,0.000,0.000>")

	line, err := b.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "stale", line)

	// Give the reader time to queue the second frame, then discard it.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, b.Flush())

	send(t, srv, "ok")
	line, err = b.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "ok", line)
}

func TestBridge_ReadTimeoutIsRetryable(t *testing.T) {
	b, _ := newBridgeServer(t)
	b.readTimeout = 50 * time.Millisecond

	line, err := b.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "", line)
}

func TestBridge_ReadAfterServerClose(t *testing.T) {
	b, srv := newBridgeServer(t)
	b.readTimeout = time.Second
	require.NoError(t, srv.Close())

	_, err := b.ReadLine()
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "read", cerr.Op)
}
