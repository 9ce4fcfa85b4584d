// Package socket is the websocket transport: one Conn per client, frames
// in both directions as JSON text messages.
package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 128
)

var (
	errConnClosed = errors.New("connection closed")
	errBufferFull = errors.New("connection buffer exceeded")
)

// Conn wraps a websocket and serializes outbound writes through a buffered
// channel drained by a single write loop. Send is safe for concurrent use.
type Conn struct {
	id      string
	session string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn, sessionUserID string) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		session: sessionUserID,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

// ID is the transport-assigned connection id.
func (c *Conn) ID() string { return c.id }

// SessionUserID is the authenticated user at upgrade time, or "".
func (c *Conn) SessionUserID() string { return c.session }

// Send enqueues f. A slow client whose buffer is full is disconnected to
// keep backpressure bounded.
func (c *Conn) Send(f events.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case <-c.done:
		return errConnClosed
	case c.send <- b:
		return nil
	default:
		// Send runs inside other users' fan-out; the close handshake must
		// not wait on this peer
		c.shutdown(websocket.CloseGoingAway, "send buffer full", true)
		return errBufferFull
	}
}

// Close terminates the connection and stops the write loop.
func (c *Conn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

func (c *Conn) closeWith(code int, reason string) {
	c.shutdown(code, reason, false)
}

// shutdown marks the Conn closed at once; with async the close frame and
// socket teardown happen on their own goroutine.
func (c *Conn) shutdown(code int, reason string, async bool) {
	c.once.Do(func() {
		close(c.done)
		finish := func() {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			_ = c.ws.Close()
		}
		if async {
			go finish()
			return
		}
		finish()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
