package data

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// exerciseChatStore runs the behavior every ChatStore must share.
func exerciseChatStore(t *testing.T, s ChatStore) {
	t.Helper()
	ctx := context.Background()

	alice := "alice-" + uuid.NewString()
	bob := "bob-" + uuid.NewString()

	// unknown user has an empty index, not an error
	idx, err := s.ChatIndex(ctx, alice)
	if err != nil {
		t.Fatalf("ChatIndex on empty: %v", err)
	}
	if len(idx) != 0 {
		t.Fatalf("expected empty index, got %d", len(idx))
	}

	chat := Chat{ID: uuid.NewString(), Participants: []string{alice, bob}, CreatedAt: time.Now().UTC()}
	if err := s.AppendChatIndex(ctx, alice, chat); err != nil {
		t.Fatalf("AppendChatIndex: %v", err)
	}
	// second append of the same chat id is a no-op
	if err := s.AppendChatIndex(ctx, alice, chat); err != nil {
		t.Fatalf("AppendChatIndex repeat: %v", err)
	}
	idx, err = s.ChatIndex(ctx, alice)
	if err != nil {
		t.Fatalf("ChatIndex: %v", err)
	}
	if len(idx) != 1 || idx[0].ID != chat.ID {
		t.Fatalf("expected exactly chat %s, got %+v", chat.ID, idx)
	}
	if got, ok := FindChatWith(idx, bob); !ok || got.ID != chat.ID {
		t.Fatalf("FindChatWith(bob) = %+v, %v", got, ok)
	}

	// equal timestamps keep insertion order
	base := time.Now().UTC().Truncate(time.Millisecond)
	msgs := []*Message{
		{ID: "m1", SenderID: alice, Text: "first", CreatedAt: base},
		{ID: "m2", SenderID: bob, Text: "second", CreatedAt: base},
		{ID: "m3", SenderID: alice, Text: "third", CreatedAt: base.Add(time.Millisecond)},
	}
	for _, m := range msgs {
		if err := s.AppendMessage(ctx, chat.ID, m); err != nil {
			t.Fatalf("AppendMessage(%s): %v", m.ID, err)
		}
	}
	got, err := s.Messages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(got))
	}
	for i, m := range got {
		if m.ID != msgs[i].ID || m.Text != msgs[i].Text {
			t.Fatalf("position %d: expected %s got %s", i, msgs[i].ID, m.ID)
		}
	}

	empty, err := s.Messages(ctx, "no-such-chat-"+uuid.NewString())
	if err != nil {
		t.Fatalf("Messages on unknown chat: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no messages, got %d", len(empty))
	}
}

func TestMemoryChatStore(t *testing.T) {
	exerciseChatStore(t, NewMemoryStore())
}

func TestMemoryStoreOutOfOrderTimestamps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_ = s.AppendMessage(ctx, "c", &Message{ID: "late", CreatedAt: now.Add(time.Second)})
	_ = s.AppendMessage(ctx, "c", &Message{ID: "early", CreatedAt: now})

	got, _ := s.Messages(ctx, "c")
	if got[0].ID != "early" || got[1].ID != "late" {
		t.Fatalf("expected early,late got %s,%s", got[0].ID, got[1].ID)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.AppendChatIndex(ctx, "u1", Chat{ID: "c1", Participants: []string{"u1", "u2"}})
	idx, _ := s.ChatIndex(ctx, "u1")
	idx[0].Participants[0] = "mutated"

	again, _ := s.ChatIndex(ctx, "u1")
	if again[0].Participants[0] != "u1" {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestMemoryUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice@example.com", "alice", "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if alice.ID == "" || alice.Avatar != DefaultAvatar {
		t.Fatalf("unexpected user: %+v", alice)
	}
	if _, err := s.CreateUser(ctx, "alice@example.com", "other", "hash"); err != ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := s.CreateUser(ctx, "bob@example.com", "bob", "hash"); err != nil {
		t.Fatalf("CreateUser bob failed: %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	if err != nil || got.ID != alice.ID {
		t.Fatalf("GetUserByEmail: %+v %v", got, err)
	}
	if _, err := s.GetUserByID(ctx, "missing"); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	others, err := s.ListUsers(ctx, alice.ID, 10)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(others) != 1 || others[0].Username != "bob" {
		t.Fatalf("expected only bob, got %+v", others)
	}
	if others[0].Password != "" {
		t.Fatal("ListUsers leaked password hash")
	}
}

func TestChatHelpers(t *testing.T) {
	c := Chat{ID: "c", Participants: []string{"a", "b"}}
	if !c.Includes("a") || c.Includes("z") {
		t.Fatal("Includes wrong")
	}
	if c.Counterpart("a") != "b" || c.Counterpart("b") != "a" {
		t.Fatal("Counterpart wrong")
	}
	if _, ok := FindChatWith(nil, "a"); ok {
		t.Fatal("FindChatWith on empty index should miss")
	}

	u := &User{ID: "1", Password: "secret"}
	if u.Snapshot().Password != "" || u.Password != "secret" {
		t.Fatal("Snapshot should strip only the copy")
	}
}
