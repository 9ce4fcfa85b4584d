// Package data provides DB models and stores.
package data

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrUserExists is returned when registering an email that is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnavailable marks failures where the backing store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// UsersStore is the credential service the HTTP layer and the router use
// to resolve user records.
type UsersStore interface {
	CreateUser(ctx context.Context, email, username, hashedPassword string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context, excludeID string, limit int64) ([]*User, error)
}

// ChatStore holds the per-user chat index and the per-chat message log.
// No transaction spans two calls; in particular the two index appends made
// when a chat is created are independent writes.
type ChatStore interface {
	// ChatIndex returns the user's chat summaries in append order; an
	// unknown user has an empty index.
	ChatIndex(ctx context.Context, userID string) ([]Chat, error)
	// AppendChatIndex adds chat to the user's index. Appending a chat id
	// that is already present is a no-op.
	AppendChatIndex(ctx context.Context, userID string, chat Chat) error
	// AppendMessage appends msg to the log of chatID.
	AppendMessage(ctx context.Context, chatID string, msg *Message) error
	// Messages returns the log of chatID ordered by CreatedAt, ties in
	// insertion order.
	Messages(ctx context.Context, chatID string) ([]*Message, error)
}

// sortMessages orders messages by creation time keeping insertion order on ties.
func sortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
