package channel

import (
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Bridge talks to a mill whose serial port hangs off another host,
// through a websocket relay that forwards text frames verbatim as
// serial lines. A reader goroutine owns the socket; frames queue on
// a channel so reads stay bounded without touching the connection's
// deadline, which gorilla treats as a permanent failure once hit.
type Bridge struct {
	url  string
	conn *websocket.Conn

	lines chan string
	done  chan struct{}

	// readErr is set by the reader before it closes lines; the close
	// orders the write ahead of any receive that observes it.
	readErr error

	readTimeout time.Duration
}

var _ Channel = (*Bridge)(nil)

func NewBridge(url string) *Bridge {
	return &Bridge{url: url, readTimeout: 10 * time.Second}
}

func (b *Bridge) Open() error {
	if b.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
	if err != nil {
		return &ConnectionError{Op: "open", Err: err}
	}
	b.conn = conn
	b.lines = make(chan string, 64)
	b.done = make(chan struct{})
	go b.readLoop(conn, b.lines, b.done)
	return nil
}

func (b *Bridge) readLoop(conn *websocket.Conn, lines chan string, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.readErr = err
			close(lines)
			return
		}
		select {
		case lines <- strings.TrimRight(string(data), "\r\n"):
		case <-done:
			return
		}
	}
}

func (b *Bridge) Close() error {
	if b.conn == nil {
		return nil
	}
	conn := b.conn
	b.conn = nil
	close(b.done)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err := conn.Close(); err != nil {
		return &ConnectionError{Op: "close", Err: err}
	}
	return nil
}

// Flush discards frames the relay already queued.
func (b *Bridge) Flush() error {
	if b.conn == nil {
		return &ConnectionError{Op: "flush", Err: errors.New("bridge not open")}
	}
	for {
		select {
		case _, ok := <-b.lines:
			if !ok {
				return &ConnectionError{Op: "flush", Err: b.readErr}
			}
		default:
			return nil
		}
	}
}

func (b *Bridge) WriteLine(text string) error {
	if b.conn == nil {
		return &ConnectionError{Op: "write", Err: errors.New("bridge not open")}
	}
	return b.conn.WriteMessage(websocket.TextMessage, []byte(text+"\n"))
}

// ReadLine returns the next relayed line, or an empty line with no
// error when nothing arrives within the read timeout.
func (b *Bridge) ReadLine() (string, error) {
	if b.conn == nil {
		return "", &ConnectionError{Op: "read", Err: errors.New("bridge not open")}
	}
	timer := time.NewTimer(b.readTimeout)
	defer timer.Stop()
	select {
	case line, ok := <-b.lines:
		if !ok {
			return "", &ConnectionError{Op: "read", Err: b.readErr}
		}
		return line, nil
	case <-timer.C:
		return "", nil
	}
}
