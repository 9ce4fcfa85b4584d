package socket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/gorilla/websocket"
)

// serverConn returns a Conn over the server side of a live websocket with
// no write loop running, plus the client side.
func serverConn(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-accepted:
		return newConn(ws, ""), client
	case <-time.After(3 * time.Second):
		t.Fatal("server never accepted")
		return nil, nil
	}
}

func TestSendOnFullBufferClosesWithoutBlocking(t *testing.T) {
	c, client := serverConn(t)
	f := events.Frame{Event: events.UserOnline, Data: events.PresencePayload{UserID: "u"}}

	for i := 0; i < sendBuffer; i++ {
		if err := c.Send(f); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := c.Send(f); err != errBufferFull {
		t.Fatalf("expected errBufferFull, got %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("Send blocked for %v", took)
	}
	select {
	case <-c.done:
	default:
		t.Fatal("conn not marked closed")
	}
	if err := c.Send(f); err != errConnClosed {
		t.Fatalf("expected errConnClosed after overflow, got %v", err)
	}

	// the peer still gets the close frame
	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Fatalf("expected going-away closure, got %v", err)
			}
			return
		}
	}
}
