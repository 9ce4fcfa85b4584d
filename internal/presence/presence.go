// Package presence derives online/offline events from registry transitions
// and relays typing indicators.
package presence

import (
	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/PaulBabatuyi/relaychat/internal/hub"
	"go.uber.org/zap"
)

// Notifier wraps the registry so that every transition it reports is
// announced exactly once. It keeps no state of its own.
type Notifier struct {
	reg *hub.Registry
	log *zap.Logger
}

// New returns a Notifier over reg and hooks registry evictions so a user
// dropped for a broken connection is announced offline too.
func New(reg *hub.Registry, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	n := &Notifier{reg: reg, log: log.Named("presence")}
	reg.OnEvictOffline(n.announceOffline)
	return n
}

// Join binds connID to userID and broadcasts user-online on the user's
// first connection.
func (n *Notifier) Join(userID, connID string, s hub.Sender) error {
	online, err := n.reg.Register(userID, connID, s)
	if err != nil {
		return err
	}
	if online {
		n.log.Info("user online", zap.String("user", userID))
		n.reg.Broadcast(events.Frame{Event: events.UserOnline, Data: events.PresencePayload{UserID: userID}}, userID)
	}
	return nil
}

// Leave unbinds connID from userID and broadcasts user-offline when it
// was the last connection.
func (n *Notifier) Leave(userID, connID string) {
	if n.reg.Unregister(userID, connID) {
		n.announceOffline(userID)
	}
}

// Disconnect releases connID from whichever user owns it. Unbound
// connections are ignored.
func (n *Notifier) Disconnect(connID string) {
	if userID, offline := n.reg.Release(connID); offline {
		n.announceOffline(userID)
	}
}

func (n *Notifier) announceOffline(userID string) {
	n.log.Info("user offline", zap.String("user", userID))
	n.reg.Broadcast(events.Frame{Event: events.UserOffline, Data: events.PresencePayload{UserID: userID}}, userID)
}

// Typing forwards a typing indicator from fromUserID to toUserID's
// connections. Nothing is retained.
func (n *Notifier) Typing(fromUserID, toUserID string) int {
	return n.relay(events.UserTyping, fromUserID, toUserID)
}

// StopTyping mirrors Typing.
func (n *Notifier) StopTyping(fromUserID, toUserID string) int {
	return n.relay(events.UserStopTyping, fromUserID, toUserID)
}

func (n *Notifier) relay(event, from, to string) int {
	if to == "" || from == to {
		return 0
	}
	delivered := n.reg.SendToUser(to, events.Frame{Event: event, Data: events.TypingPayload{UserID: from}})
	if delivered == 0 {
		n.log.Debug("typing target offline", zap.String("event", event), zap.String("to", to))
	}
	return delivered
}
