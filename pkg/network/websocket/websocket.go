package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 10 * 1024
	writeWait      = 10 * time.Second
	dialWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
}

// Conn turns the binary messages of a websocket connection into a byte stream.
// A command may span several messages and a message may hold several commands.
// Text messages are skipped.
//
// There is no read deadline, an idle control connection is a normal state.
type Conn struct {
	sock *websocket.Conn
	r    io.Reader
	wmu  sync.Mutex
}

func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(sock), nil
}

// Dial connects to a ws:// or wss:// address.
func Dial(ctx context.Context, address string) (*Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: dialWait, ReadBufferSize: 1024, WriteBufferSize: 1024}
	sock, _, err := d.DialContext(ctx, address, nil)
	if err != nil {
		return nil, err
	}
	return newConn(sock), nil
}

func newConn(sock *websocket.Conn) *Conn {
	sock.SetReadLimit(maxMessageSize)
	return &Conn{sock: sock}
}

func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.sock.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends p as one binary message.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return 0, err
	}
	if err := c.sock.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends the close message and closes the connection.
func (c *Conn) Close() error {
	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.wmu.Unlock()
	return c.sock.Close()
}
