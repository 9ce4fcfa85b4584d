package presence

import (
	"errors"
	"sync"
	"testing"

	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/PaulBabatuyi/relaychat/internal/hub"
)

type recorder struct {
	mu     sync.Mutex
	frames []events.Frame
	fail   bool
}

func (r *recorder) Send(f events.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) events(name string) []events.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Frame
	for _, f := range r.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func TestJoinLeaveBroadcastsOnce(t *testing.T) {
	reg := hub.New(nil)
	n := New(reg, nil)

	observer := &recorder{}
	if err := n.Join("observer", "o1", observer); err != nil {
		t.Fatalf("Join observer: %v", err)
	}

	u1, u2 := &recorder{}, &recorder{}
	_ = n.Join("u", "c1", u1)
	_ = n.Join("u", "c2", u2)

	online := observer.events(events.UserOnline)
	if len(online) != 1 {
		t.Fatalf("expected 1 user-online, got %d", len(online))
	}
	if p := online[0].Data.(events.PresencePayload); p.UserID != "u" {
		t.Fatalf("unexpected payload %+v", p)
	}
	// the user is not told about itself
	if len(u1.events(events.UserOnline)) != 0 {
		t.Fatal("user should not receive its own online event")
	}

	n.Leave("u", "c1")
	if len(observer.events(events.UserOffline)) != 0 {
		t.Fatal("u still has c2; must stay online")
	}
	n.Disconnect("c2")
	if got := observer.events(events.UserOffline); len(got) != 1 {
		t.Fatalf("expected 1 user-offline, got %d", len(got))
	}

	// unbound connection is a no-op
	n.Disconnect("never-joined")
	if got := observer.events(events.UserOffline); len(got) != 1 {
		t.Fatalf("unexpected extra offline events: %d", len(got))
	}
}

func TestEvictionAnnouncesOffline(t *testing.T) {
	reg := hub.New(nil)
	n := New(reg, nil)

	observer := &recorder{}
	_ = n.Join("observer", "o1", observer)

	broken := &recorder{fail: true}
	_ = n.Join("u", "c1", broken)

	// delivery to the broken connection evicts it
	reg.SendToUser("u", events.Frame{Event: "ping"})
	if got := observer.events(events.UserOffline); len(got) != 1 {
		t.Fatalf("expected offline after eviction, got %d", len(got))
	}
}

func TestTypingPassThrough(t *testing.T) {
	reg := hub.New(nil)
	n := New(reg, nil)

	bob := &recorder{}
	_ = n.Join("bob", "b1", bob)

	if got := n.Typing("alice", "bob"); got != 1 {
		t.Fatalf("expected delivery to bob, got %d", got)
	}
	if got := n.StopTyping("alice", "bob"); got != 1 {
		t.Fatalf("expected delivery to bob, got %d", got)
	}
	typing := bob.events(events.UserTyping)
	if len(typing) != 1 || typing[0].Data.(events.TypingPayload).UserID != "alice" {
		t.Fatalf("unexpected typing frames %+v", typing)
	}
	if len(bob.events(events.UserStopTyping)) != 1 {
		t.Fatal("expected one stop-typing frame")
	}

	if n.Typing("alice", "offline-user") != 0 {
		t.Fatal("typing to an offline user delivers nothing")
	}
	if n.Typing("bob", "bob") != 0 {
		t.Fatal("typing to self is dropped")
	}
}
