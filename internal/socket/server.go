package socket

import (
	"context"
	"net/http"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/chat"
	"github.com/PaulBabatuyi/relaychat/internal/dispatch"
	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Authenticator resolves the session user of an upgrade request; "" means
// anonymous. Binding still happens through the join event.
type Authenticator func(r *http.Request) string

// Handler upgrades HTTP requests and runs the read loop of each Conn.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	auth       Authenticator
	upgrader   websocket.Upgrader
	log        *zap.Logger

	// eventTimeout bounds each handler run so a stalled store cannot hang
	// the read loop forever.
	eventTimeout time.Duration
}

// NewHandler returns a Handler dispatching frames to d.
func NewHandler(d *dispatch.Dispatcher, auth Authenticator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if auth == nil {
		auth = func(*http.Request) string { return "" }
	}
	return &Handler{
		dispatcher: d,
		auth:       auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// pages are served from other origins during development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:          log.Named("socket"),
		eventTimeout: 10 * time.Second,
	}
}

// ServeWS is the gin handler for GET /ws.
func (h *Handler) ServeWS(c *gin.Context) {
	h.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(ws, h.auth(r))
	log := h.log.With(zap.String("conn", conn.ID()), zap.String("session", conn.SessionUserID()))
	log.Debug("connected")

	go conn.writeLoop()
	h.readLoop(r.Context(), conn, log)

	h.dispatcher.Disconnect(conn)
	_ = conn.Close()
	log.Debug("disconnected")
}

func (h *Handler) readLoop(ctx context.Context, conn *Conn, log *zap.Logger) {
	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}

		f, err := events.ParseFrame(raw)
		if err != nil {
			_ = conn.Send(events.ErrorFrame(events.ErrMalformedFrame.Error()))
			continue
		}

		evCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.eventTimeout)
		err = h.dispatcher.Dispatch(evCtx, conn, f)
		cancel()
		if err != nil && !errors.Is(err, chat.ErrUnknownEvent) {
			log.Debug("event rejected", zap.String("event", f.Event), zap.Error(err))
		}
	}
}
