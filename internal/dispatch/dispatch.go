// Package dispatch maps incoming event names to handlers. One table serves
// every connection on every transport.
package dispatch

import (
	"context"

	"github.com/PaulBabatuyi/relaychat/internal/chat"
	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/PaulBabatuyi/relaychat/internal/hub"
	"github.com/PaulBabatuyi/relaychat/internal/middleware"
	"github.com/PaulBabatuyi/relaychat/internal/normalize"
	"github.com/PaulBabatuyi/relaychat/internal/presence"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrRateLimited is returned when a user sends faster than allowed.
var ErrRateLimited = errors.New("rate limit exceeded")

// Conn is a live transport connection.
type Conn interface {
	hub.Sender
	ID() string
	// SessionUserID is the user authenticated when the connection was
	// opened, or "" for anonymous connections.
	SessionUserID() string
}

type handlerFunc func(ctx context.Context, c Conn, payload any) error

// Options configures a Dispatcher.
type Options struct {
	Router   *chat.Router
	Presence *presence.Notifier
	Registry *hub.Registry
	// SendLimiter throttles send-message per user; nil disables it.
	SendLimiter *middleware.LimiterStore
	// StrictJoin rejects a join whose userId differs from the session user.
	StrictJoin bool
	Logger     *zap.Logger
}

// Dispatcher routes frames from connections.
type Dispatcher struct {
	router     *chat.Router
	presence   *presence.Notifier
	reg        *hub.Registry
	limiter    *middleware.LimiterStore
	strictJoin bool
	log        *zap.Logger

	handlers map[string]handlerFunc
}

// New builds the handler table.
func New(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		router:     opts.Router,
		presence:   opts.Presence,
		reg:        opts.Registry,
		limiter:    opts.SendLimiter,
		strictJoin: opts.StrictJoin,
		log:        log.Named("dispatch"),
	}
	d.handlers = map[string]handlerFunc{
		events.Join:           d.join,
		events.SendMessage:    d.sendMessage,
		events.UserTyping:     d.typing,
		events.UserStopTyping: d.stopTyping,
		events.LoadMessages:   d.loadMessages,
	}
	return d
}

// Dispatch runs the handler for f. Unknown events are logged and dropped
// (the returned ErrUnknownEvent is informational). Any other failure is
// reported to c alone as an error event and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, c Conn, f events.Frame) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		d.log.Debug("unknown event ignored", zap.String("conn", c.ID()), zap.String("event", f.Event))
		return chat.ErrUnknownEvent
	}

	err := h(ctx, c, f.Data)
	if err == nil {
		return nil
	}
	d.log.Debug("event failed", zap.String("conn", c.ID()), zap.String("event", f.Event), zap.Error(err))
	if sendErr := c.Send(events.ErrorFrame(clientMessage(err))); sendErr != nil {
		d.log.Debug("error frame not delivered", zap.String("conn", c.ID()), zap.Error(sendErr))
	}
	return err
}

// Disconnect releases whatever user c was bound to.
func (d *Dispatcher) Disconnect(c Conn) {
	d.presence.Disconnect(c.ID())
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited.Error()
	case errors.Is(err, events.ErrMalformedFrame):
		return events.ErrMalformedFrame.Error()
	default:
		return chat.ClientMessage(err)
	}
}

// boundUser returns the user c joined as.
func (d *Dispatcher) boundUser(c Conn) (string, error) {
	userID, ok := d.reg.Owner(c.ID())
	if !ok {
		return "", chat.ErrNotAuthenticated
	}
	return userID, nil
}

func decode(payload any, out any) error {
	if err := events.DecodePayload(payload, out); err != nil {
		return errors.Wrap(events.ErrMalformedFrame, err.Error())
	}
	return nil
}

// join binds c to the user id the client names. The id is not derived from
// the session: a mismatch is logged, and only refused in strict mode.
func (d *Dispatcher) join(ctx context.Context, c Conn, payload any) error {
	var p events.JoinPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	userID := normalize.ID(p.UserID)
	if userID == "" {
		return chat.ErrNotAuthenticated
	}

	sess := c.SessionUserID()
	if sess != "" && sess != userID {
		d.log.Warn("join user differs from session user",
			zap.String("conn", c.ID()), zap.String("join", userID), zap.String("session", sess))
	}
	if d.strictJoin && sess != userID {
		return chat.ErrNotAuthenticated
	}

	// rebinding a connection releases the previous user first
	if owner, ok := d.reg.Owner(c.ID()); ok {
		if owner == userID {
			return nil
		}
		d.presence.Leave(owner, c.ID())
	}
	return d.presence.Join(userID, c.ID(), c)
}

func (d *Dispatcher) sendMessage(ctx context.Context, c Conn, payload any) error {
	userID, err := d.boundUser(c)
	if err != nil {
		return err
	}
	var p events.SendMessagePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if d.limiter != nil && !d.limiter.Allow("send:"+userID) {
		return ErrRateLimited
	}

	_, err = d.router.SendMessage(ctx, chat.SendRequest{
		SenderID:     userID,
		ReceiverID:   p.ReceiverID,
		Text:         p.Text,
		ChatID:       d.router.VerifyChatID(ctx, userID, p.ReceiverID, p.ChatID),
		OriginConnID: c.ID(),
	})
	return err
}

func (d *Dispatcher) typing(ctx context.Context, c Conn, payload any) error {
	userID, to, err := d.typingTarget(c, payload)
	if err != nil {
		return err
	}
	d.presence.Typing(userID, to)
	return nil
}

func (d *Dispatcher) stopTyping(ctx context.Context, c Conn, payload any) error {
	userID, to, err := d.typingTarget(c, payload)
	if err != nil {
		return err
	}
	d.presence.StopTyping(userID, to)
	return nil
}

func (d *Dispatcher) typingTarget(c Conn, payload any) (from, to string, err error) {
	from, err = d.boundUser(c)
	if err != nil {
		return "", "", err
	}
	var p events.TypingPayload
	if err := decode(payload, &p); err != nil {
		return "", "", err
	}
	return from, normalize.ID(p.UserID), nil
}

func (d *Dispatcher) loadMessages(ctx context.Context, c Conn, payload any) error {
	userID, err := d.boundUser(c)
	if err != nil {
		return err
	}
	var p events.LoadMessagesPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	msgs, err := d.router.LoadHistory(ctx, userID, p.UserID)
	if err != nil {
		return err
	}
	return c.Send(events.Frame{
		Event: events.MessagesLoaded,
		Data:  events.MessagesLoadedPayload{UserID: normalize.ID(p.UserID), Messages: events.MessagesOf(msgs)},
	})
}
