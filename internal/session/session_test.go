package session

import (
	"testing"

	"github.com/PaulBabatuyi/relaychat/internal/data"
)

func TestStoreLifecycle(t *testing.T) {
	s := NewStore()
	u := &data.User{ID: "u1", Username: "alice", Password: "hash"}

	t1 := s.Create(u)
	t2 := s.Create(u)
	if t1 == "" || t1 == t2 {
		t.Fatalf("tokens must be unique and non-empty: %q %q", t1, t2)
	}
	if s.Len() != 2 {
		t.Fatalf("multiple sessions per user allowed, have %d", s.Len())
	}

	sess, ok := s.Get(t1)
	if !ok || sess.User.ID != "u1" {
		t.Fatalf("Get: %+v %v", sess, ok)
	}
	if sess.User.Password != "" {
		t.Fatal("session must hold a snapshot without the hash")
	}

	// snapshot, not a live reference
	u.Username = "changed"
	sess.User.Username = "mutated"
	again, _ := s.Get(t1)
	if again.User.Username != "alice" {
		t.Fatalf("expected cached snapshot, got %s", again.User.Username)
	}

	s.Delete(t1)
	if _, ok := s.Get(t1); ok {
		t.Fatal("deleted session still present")
	}
	s.Delete("unknown")

	s.Clear()
	if _, ok := s.Get(t2); ok || s.Len() != 0 {
		t.Fatal("Clear should drop everything")
	}
}
