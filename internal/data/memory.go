package data

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps users, chat indexes and message logs in process memory.
// It is the demo-mode backend and implements both UsersStore and ChatStore.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*User      // by id
	byEmail   map[string]string     // email -> id
	userChats map[string][]Chat     // user id -> index
	messages  map[string][]*Message // chat id -> log
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*User),
		byEmail:   make(map[string]string),
		userChats: make(map[string][]Chat),
		messages:  make(map[string][]*Message),
	}
}

// CreateUser stores a new user with a generated id.
func (m *MemoryStore) CreateUser(ctx context.Context, email, username, hashedPassword string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[email]; ok {
		return nil, ErrUserExists
	}
	now := time.Now()
	u := &User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Avatar:    DefaultAvatar,
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.users[u.ID] = u
	m.byEmail[email] = u.ID

	cp := *u
	return &cp, nil
}

// GetUserByEmail finds a user by email.
func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

// GetUserByID finds a user by id.
func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// ListUsers returns up to limit users other than excludeID ordered by username.
func (m *MemoryStore) ListUsers(ctx context.Context, excludeID string, limit int64) ([]*User, error) {
	m.mu.RLock()
	out := make([]*User, 0, len(m.users))
	for id, u := range m.users {
		if id == excludeID {
			continue
		}
		out = append(out, u.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ChatIndex returns a copy of the user's chat index.
func (m *MemoryStore) ChatIndex(ctx context.Context, userID string) ([]Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	index := m.userChats[userID]
	out := make([]Chat, len(index))
	for i, c := range index {
		out[i] = copyChat(c)
	}
	return out, nil
}

// AppendChatIndex appends chat to the user's index unless already present.
func (m *MemoryStore) AppendChatIndex(ctx context.Context, userID string, chat Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.userChats[userID] {
		if c.ID == chat.ID {
			return nil
		}
	}
	m.userChats[userID] = append(m.userChats[userID], copyChat(chat))
	return nil
}

// AppendMessage appends a copy of msg to the chat log.
func (m *MemoryStore) AppendMessage(ctx context.Context, chatID string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.messages[chatID] = append(m.messages[chatID], &cp)
	return nil
}

// Messages returns the chat log ordered by creation time.
func (m *MemoryStore) Messages(ctx context.Context, chatID string) ([]*Message, error) {
	m.mu.RLock()
	log := m.messages[chatID]
	out := make([]*Message, len(log))
	for i, msg := range log {
		cp := *msg
		out[i] = &cp
	}
	m.mu.RUnlock()

	sortMessages(out)
	return out, nil
}

func copyChat(c Chat) Chat {
	c.Participants = append([]string(nil), c.Participants...)
	return c
}
