// Package events defines the named events exchanged over a connection and
// their payloads. Frames look like {"event": "<name>", "data": {...}} in
// both directions and on both transports.
package events

import (
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/data"
)

// Client -> server.
const (
	Join           = "join"
	SendMessage    = "send-message"
	UserTyping     = "user-typing"
	UserStopTyping = "user-stop-typing"
	LoadMessages   = "load-messages"
)

// Server -> client.
const (
	MessageReceived = "message-received"
	MessageSent     = "message-sent"
	ChatUpdated     = "chat-updated"
	UserOnline      = "user-online"
	UserOffline     = "user-offline"
	MessagesLoaded  = "messages-loaded"
	Error           = "error"
)

// Frame is one event on the wire.
type Frame struct {
	Event string `json:"event" mapstructure:"event"`
	Data  any    `json:"data,omitempty" mapstructure:"data"`
}

// JoinPayload binds a connection to a user.
type JoinPayload struct {
	UserID string `json:"userId" mapstructure:"userId"`
}

// SendMessagePayload asks the router to deliver text to ReceiverID.
type SendMessagePayload struct {
	ChatID     string `json:"chatId,omitempty" mapstructure:"chatId"`
	ReceiverID string `json:"receiverId" mapstructure:"receiverId"`
	Text       string `json:"text" mapstructure:"text"`
}

// TypingPayload names the counterpart on the way in and the typer on the
// way out.
type TypingPayload struct {
	UserID string `json:"userId" mapstructure:"userId"`
}

// LoadMessagesPayload requests history with UserID.
type LoadMessagesPayload struct {
	UserID string `json:"userId" mapstructure:"userId"`
}

// UserRef is the public view of a user attached to events.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// RefOf converts a stored user into a UserRef; nil stays nil.
func RefOf(u *data.User) *UserRef {
	if u == nil {
		return nil
	}
	return &UserRef{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: u.Avatar}
}

// MessagePayload is a message as clients see it.
type MessagePayload struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageOf converts a stored message.
func MessageOf(m *data.Message) MessagePayload {
	return MessagePayload{ID: m.ID, SenderID: m.SenderID, Text: m.Text, CreatedAt: m.CreatedAt}
}

// MessagesOf converts a history slice, never returning nil.
func MessagesOf(msgs []*data.Message) []MessagePayload {
	out := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageOf(m))
	}
	return out
}

// MessageReceivedPayload goes to every connection of the receiver.
type MessageReceivedPayload struct {
	Message    MessagePayload `json:"message"`
	SenderID   string         `json:"senderId"`
	ReceiverID string         `json:"receiverId"`
	IsNewChat  bool           `json:"isNewChat"`
	OtherUser  *UserRef       `json:"otherUser"`
}

// MessageSentPayload acknowledges a send on the originating connection.
type MessageSentPayload struct {
	Message    MessagePayload `json:"message"`
	ReceiverID string         `json:"receiverId"`
	IsNewChat  bool           `json:"isNewChat"`
	OtherUser  *UserRef       `json:"otherUser"`
}

// ChatUpdate summarizes the latest activity in a chat.
type ChatUpdate struct {
	ChatID      string    `json:"chatId"`
	LastMessage string    `json:"lastMessage"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChatUpdatedPayload goes to both participants; OtherUser is the
// counterpart from the recipient's point of view.
type ChatUpdatedPayload struct {
	ChatUpdate  ChatUpdate `json:"chatUpdate"`
	OtherUserID string     `json:"otherUserId"`
	IsNewChat   bool       `json:"isNewChat"`
	OtherUser   *UserRef   `json:"otherUser"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// MessagesLoadedPayload answers load-messages.
type MessagesLoadedPayload struct {
	UserID   string           `json:"userId"`
	Messages []MessagePayload `json:"messages"`
}

// ErrorPayload reports a failed operation to the originating connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ErrorFrame builds an error event.
func ErrorFrame(msg string) Frame {
	return Frame{Event: Error, Data: ErrorPayload{Message: msg}}
}
