// Package hub tracks which live connections belong to which user.
package hub

import (
	"sort"
	"sync"

	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrConnOwned is returned when a connection id is registered for a
	// second user without being unregistered first.
	ErrConnOwned = errors.New("connection already bound to another user")
	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("registry closed")
)

// Sender is the minimal interface the registry needs from a connection:
// queue a frame for the client, and close.
type Sender interface {
	Send(events.Frame) error
	Close() error
}

// Registry maps user ids to their live connections. A user with at least
// one connection is online. All check-and-mutate sequences run under mu;
// frames are written to senders only after mu is released.
type Registry struct {
	mu     sync.Mutex
	users  map[string]map[string]Sender // userID -> connID -> sender
	owners map[string]string            // connID -> userID
	closed bool

	// offline is called (outside mu) when an eviction empties a user's set
	offline func(userID string)

	log *zap.Logger
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		users:  make(map[string]map[string]Sender),
		owners: make(map[string]string),
		log:    log.Named("hub"),
	}
}

// OnEvictOffline sets the callback run when a failed delivery evicts a
// user's last connection.
func (r *Registry) OnEvictOffline(fn func(userID string)) {
	r.mu.Lock()
	r.offline = fn
	r.mu.Unlock()
}

// Register binds connID to userID. online is true when this is the user's
// first connection. Registering the same pair twice is a no-op.
func (r *Registry) Register(userID, connID string, s Sender) (online bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}
	if owner, ok := r.owners[connID]; ok {
		if owner != userID {
			return false, errors.Wrapf(ErrConnOwned, "conn %s owned by %s", connID, owner)
		}
		r.users[userID][connID] = s
		return false, nil
	}

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]Sender)
		r.users[userID] = conns
	}
	online = len(conns) == 0
	conns[connID] = s
	r.owners[connID] = userID
	return online, nil
}

// Unregister removes connID from userID. offline is true when the set
// became empty. Unknown users or connections are a no-op.
func (r *Registry) Unregister(userID, connID string) (offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(userID, connID)
}

// Release unregisters connID from whichever user owns it.
func (r *Registry) Release(connID string) (userID string, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[connID]
	if !ok {
		return "", false
	}
	return userID, r.unregisterLocked(userID, connID)
}

func (r *Registry) unregisterLocked(userID, connID string) bool {
	conns, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	delete(r.owners, connID)
	if len(conns) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// Owner returns the user connID is bound to.
func (r *Registry) Owner(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.owners[connID]
	return u, ok
}

// ConnectionsFor returns a sorted snapshot of the user's connection ids.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.users[userID]
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether the user has any live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers returns a sorted snapshot of users with live connections.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type target struct {
	userID string
	connID string
	s      Sender
}

// SendToConn delivers f to a single connection. A missing connection is
// reported as delivered=false without error.
func (r *Registry) SendToConn(connID string, f events.Frame) (delivered bool) {
	r.mu.Lock()
	userID, ok := r.owners[connID]
	var t target
	if ok {
		t = target{userID: userID, connID: connID, s: r.users[userID][connID]}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	return r.deliver([]target{t}, f) == 1
}

// SendToUser delivers f to every connection of userID and returns how many
// accepted it. Zero connections is not an error: the user is offline.
func (r *Registry) SendToUser(userID string, f events.Frame) int {
	r.mu.Lock()
	targets := make([]target, 0, len(r.users[userID]))
	for connID, s := range r.users[userID] {
		targets = append(targets, target{userID: userID, connID: connID, s: s})
	}
	r.mu.Unlock()

	return r.deliver(targets, f)
}

// Broadcast delivers f to every connection of every user except except.
func (r *Registry) Broadcast(f events.Frame, except string) int {
	r.mu.Lock()
	var targets []target
	for userID, conns := range r.users {
		if userID == except {
			continue
		}
		for connID, s := range conns {
			targets = append(targets, target{userID: userID, connID: connID, s: s})
		}
	}
	r.mu.Unlock()

	return r.deliver(targets, f)
}

// deliver sends f to each target. Connections that fail are evicted so the
// registry never keeps stale or broken senders.
func (r *Registry) deliver(targets []target, f events.Frame) int {
	sent := 0
	var failed []target
	for _, t := range targets {
		if err := t.s.Send(f); err != nil {
			r.log.Debug("send failed, evicting connection",
				zap.String("user", t.userID), zap.String("conn", t.connID),
				zap.String("event", f.Event), zap.Error(err))
			failed = append(failed, t)
			continue
		}
		sent++
	}

	for _, t := range failed {
		offline := r.Unregister(t.userID, t.connID)
		_ = t.s.Close()
		if offline {
			r.mu.Lock()
			fn := r.offline
			r.mu.Unlock()
			if fn != nil {
				fn(t.userID)
			}
		}
	}
	return sent
}

// Close drops every registration and closes all connections. Later
// Register calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []Sender
	for _, conns := range r.users {
		for _, s := range conns {
			all = append(all, s)
		}
	}
	r.users = make(map[string]map[string]Sender)
	r.owners = make(map[string]string)
	r.closed = true
	r.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	r.log.Info("registry closed", zap.Int("connections", len(all)))
}
