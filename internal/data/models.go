package data

import (
	"time"
)

// DefaultAvatar is assigned to users registered without one.
const DefaultAvatar = "/default-avatar.png"

// User maps to users collection (id, profile fields, password hash, timestamps)
type User struct {
	ID        string    `bson:"_id" json:"id"`
	Username  string    `bson:"username" json:"username"`
	Email     string    `bson:"email" json:"email"`
	Avatar    string    `bson:"avatar" json:"avatar"`
	Password  string    `bson:"password,omitempty" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"-"`
}

// Snapshot returns a copy of u without the credential hash. Sessions and
// event payloads hold snapshots, never the stored record.
func (u *User) Snapshot() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Password = ""
	return &cp
}

// Chat is the summary stored in each participant's chat index.
type Chat struct {
	ID           string    `bson:"chat_id" json:"chatId"`
	Participants []string  `bson:"participants" json:"participants"`
	CreatedAt    time.Time `bson:"created_at" json:"createdAt"`
}

// Includes reports whether userID is one of the chat participants.
func (c Chat) Includes(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not userID.
func (c Chat) Counterpart(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// Message maps to messages collection. Immutable once appended.
type Message struct {
	ID        string    `bson:"_id" json:"id"`
	SenderID  string    `bson:"sender_id" json:"senderId"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// FindChatWith returns the first chat in index that includes userID.
func FindChatWith(index []Chat, userID string) (Chat, bool) {
	for _, c := range index {
		if c.Includes(userID) {
			return c, true
		}
	}
	return Chat{}, false
}
