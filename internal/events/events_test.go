package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/pkg/errors"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"send-message","data":{"receiverId":"bob","text":"hi"}}`))
	if err != nil {
		t.Fatalf("ParseFrame failed: %v", err)
	}
	if f.Event != SendMessage {
		t.Fatalf("expected %s got %s", SendMessage, f.Event)
	}

	var p SendMessagePayload
	if err := DecodePayload(f.Data, &p); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if p.ReceiverID != "bob" || p.Text != "hi" || p.ChatID != "" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestParseFrameRejectsMalformed(t *testing.T) {
	for _, in := range []string{`not json`, `{"data":{}}`, `{"event":""}`} {
		if _, err := ParseFrame([]byte(in)); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%q: expected ErrMalformedFrame, got %v", in, err)
		}
	}
}

func TestDecodePayloadWeakTyping(t *testing.T) {
	var p JoinPayload
	if err := DecodePayload(map[string]any{"userId": 42.0}, &p); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if p.UserID != "42" {
		t.Fatalf("expected \"42\", got %q", p.UserID)
	}

	// missing data leaves the zero value
	var empty JoinPayload
	if err := DecodePayload(nil, &empty); err != nil || empty.UserID != "" {
		t.Fatalf("nil payload: %+v %v", empty, err)
	}
}

func TestFrameMapRoundTrip(t *testing.T) {
	f := Frame{Event: UserOnline, Data: PresencePayload{UserID: "alice"}}
	m, err := f.ToMap()
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	back, err := FrameFromMap(m)
	if err != nil {
		t.Fatalf("FrameFromMap failed: %v", err)
	}
	var p PresencePayload
	if err := DecodePayload(back.Data, &p); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if back.Event != UserOnline || p.UserID != "alice" {
		t.Fatalf("unexpected frame %+v", back)
	}

	if _, err := FrameFromMap(map[string]any{"data": 1}); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestWireFieldNames(t *testing.T) {
	msg := &data.Message{ID: "m1", SenderID: "alice", Text: "hi", CreatedAt: time.Unix(0, 0).UTC()}
	f := Frame{Event: MessageReceived, Data: MessageReceivedPayload{
		Message:    MessageOf(msg),
		SenderID:   "alice",
		ReceiverID: "bob",
		IsNewChat:  true,
		OtherUser:  RefOf(&data.User{ID: "alice", Username: "Alice", Password: "hash"}),
	}}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"event":"message-received"`, `"senderId":"alice"`, `"receiverId":"bob"`,
		`"isNewChat":true`, `"otherUser":{"id":"alice"`, `"createdAt":"1970-01-01T00:00:00Z"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %s in %s", want, s)
		}
	}
	if strings.Contains(s, "hash") {
		t.Fatalf("password hash leaked: %s", s)
	}

	if got := MessagesOf(nil); got == nil || len(got) != 0 {
		t.Fatalf("MessagesOf(nil) should be empty non-nil, got %#v", got)
	}
	if RefOf(nil) != nil {
		t.Fatal("RefOf(nil) should be nil")
	}
}
