// Package chat routes messages between two users: it resolves or creates
// the chat for the pair, keeps both participants' chat indexes in step with
// the message log, and fans events out to live connections.
package chat

import (
	"context"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/PaulBabatuyi/relaychat/internal/hub"
	"github.com/PaulBabatuyi/relaychat/internal/normalize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Router is written once against the store interfaces; the backend is
// chosen when it is constructed.
type Router struct {
	chats data.ChatStore
	users data.UsersStore
	reg   *hub.Registry
	log   *zap.Logger

	// resolving runs one resolve-or-create per unordered pair at a time
	resolving singleflight.Group

	now   func() time.Time
	newID func() string
}

// NewRouter wires a Router. users may be nil, in which case events carry
// no user records.
func NewRouter(chats data.ChatStore, users data.UsersStore, reg *hub.Registry, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		chats: chats,
		users: users,
		reg:   reg,
		log:   log.Named("router"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// SendRequest is one message send.
type SendRequest struct {
	SenderID   string
	ReceiverID string
	Text       string
	// ChatID, when set, is trusted as already resolved by the caller.
	// Ids taken from clients go through VerifyChatID first.
	ChatID string
	// OriginConnID receives the message-sent acknowledgment. Empty for
	// request/response sends.
	OriginConnID string
}

// SendResult describes a durable send.
type SendResult struct {
	ChatID    string
	Message   *data.Message
	IsNewChat bool
}

// SendMessage validates req, resolves the chat, appends the message and
// notifies both participants. Nothing is sent to any connection unless the
// message was appended.
func (r *Router) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	sender := normalize.ID(req.SenderID)
	receiver := normalize.ID(req.ReceiverID)
	if sender == "" || receiver == "" || sender == receiver {
		return nil, ErrInvalidParticipants
	}
	if normalize.Text(req.Text) == "" {
		return nil, ErrEmptyMessage
	}

	chatID := normalize.ID(req.ChatID)
	isNew := false
	if chatID == "" {
		chat, created, err := r.resolveChat(ctx, sender, receiver)
		if err != nil {
			return nil, err
		}
		chatID, isNew = chat.ID, created
	}

	msg := &data.Message{
		ID:        r.newID(),
		SenderID:  sender,
		Text:      req.Text,
		CreatedAt: r.now(),
	}
	if err := r.chats.AppendMessage(ctx, chatID, msg); err != nil {
		err = storeErr("append message", err, true)
		r.log.Error("message not stored", zap.String("chat", chatID), zap.Error(err))
		return nil, err
	}

	r.notify(ctx, chatID, sender, receiver, req.OriginConnID, msg, isNew)
	return &SendResult{ChatID: chatID, Message: msg, IsNewChat: isNew}, nil
}

type resolved struct {
	chat    data.Chat
	created bool
}

// resolveChat finds the pair's chat or creates it. Concurrent sends between
// the same two users share one lookup, so a pair never gets two chats;
// only the caller whose lookup ran reports the chat as new.
func (r *Router) resolveChat(ctx context.Context, sender, receiver string) (data.Chat, bool, error) {
	ran := false
	v, err, _ := r.resolving.Do(pairKey(sender, receiver), func() (interface{}, error) {
		ran = true
		chat, created, err := r.lookupOrCreate(ctx, sender, receiver)
		return resolved{chat: chat, created: created}, err
	})
	if err != nil {
		return data.Chat{}, false, err
	}
	res := v.(resolved)
	return res.chat, res.created && ran, nil
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// lookupOrCreate looks in the sender's index, then the receiver's. A chat
// present only in the receiver's index is reused and copied into the
// sender's index.
func (r *Router) lookupOrCreate(ctx context.Context, sender, receiver string) (data.Chat, bool, error) {
	index, err := r.chats.ChatIndex(ctx, sender)
	if err != nil {
		err = storeErr("read chat index", err, false)
		r.log.Error("chat index unavailable", zap.String("user", sender), zap.Error(err))
		return data.Chat{}, false, err
	}
	if chat, ok := data.FindChatWith(index, receiver); ok {
		return chat, false, nil
	}

	healed, ok, err := r.healFrom(ctx, receiver, sender)
	if err != nil {
		return data.Chat{}, false, err
	}
	if ok {
		return healed, false, nil
	}

	chat := data.Chat{
		ID:           r.newID(),
		Participants: []string{sender, receiver},
		CreatedAt:    r.now(),
	}
	if err := r.writeBothIndexes(ctx, chat); err != nil {
		return data.Chat{}, false, err
	}
	return chat, true, nil
}

// VerifyChatID returns chatID when the sender's index holds it and the chat
// includes receiver, and "" otherwise. Ids supplied by clients must pass
// through it before reaching SendRequest.ChatID.
func (r *Router) VerifyChatID(ctx context.Context, senderID, receiverID, chatID string) string {
	chatID = normalize.ID(chatID)
	sender := normalize.ID(senderID)
	receiver := normalize.ID(receiverID)
	if chatID == "" || sender == "" || receiver == "" {
		return ""
	}
	index, err := r.chats.ChatIndex(ctx, sender)
	if err != nil {
		r.log.Warn("chat id not verified", zap.String("user", sender), zap.Error(err))
		return ""
	}
	for _, c := range index {
		if c.ID == chatID && c.Includes(receiver) {
			return chatID
		}
	}
	r.log.Debug("ignoring chat id outside sender's index",
		zap.String("user", sender), zap.String("chat", chatID))
	return ""
}

// healFrom looks for the pair's chat in from's index and, if found, appends
// it to to's index.
func (r *Router) healFrom(ctx context.Context, from, to string) (data.Chat, bool, error) {
	index, err := r.chats.ChatIndex(ctx, from)
	if err != nil {
		err = storeErr("read chat index", err, false)
		r.log.Error("chat index unavailable", zap.String("user", from), zap.Error(err))
		return data.Chat{}, false, err
	}
	chat, ok := data.FindChatWith(index, to)
	if !ok {
		return data.Chat{}, false, nil
	}
	if err := r.chats.AppendChatIndex(ctx, to, chat); err != nil {
		err = storeErr("repair chat index", err, true)
		r.log.Error("chat index repair failed", zap.String("chat", chat.ID), zap.String("user", to), zap.Error(err))
		return data.Chat{}, false, err
	}
	r.log.Warn("repaired one-sided chat index", zap.String("chat", chat.ID), zap.String("user", to))
	return chat, true, nil
}

// writeBothIndexes issues the two index appends together and waits for
// both. errgroup.WithContext is not used: a failure on one side must not
// cancel the other, or a partial write would look like a total one.
func (r *Router) writeBothIndexes(ctx context.Context, chat data.Chat) error {
	a, b := chat.Participants[0], chat.Participants[1]
	var errA, errB error

	var g errgroup.Group
	g.Go(func() error {
		errA = r.chats.AppendChatIndex(ctx, a, chat)
		return errA
	})
	g.Go(func() error {
		errB = r.chats.AppendChatIndex(ctx, b, chat)
		return errB
	})
	_ = g.Wait()

	switch {
	case errA == nil && errB == nil:
		return nil
	case errA != nil && errB != nil:
		err := storeErr("create chat", errA, true)
		r.log.Error("chat not created", zap.String("chat", chat.ID), zap.Error(err), zap.NamedError("other", errB))
		return err
	case errA != nil:
		return r.partial(chat.ID, b, a, errA)
	default:
		return r.partial(chat.ID, a, b, errB)
	}
}

func (r *Router) partial(chatID, written, missing string, cause error) error {
	err := &PartialIndexWriteError{
		ChatID:  chatID,
		Written: written,
		Missing: missing,
		Err:     storeErr("create chat", cause, true),
	}
	r.log.Error("partial chat index write", zap.String("chat", chatID),
		zap.String("written", written), zap.String("missing", missing), zap.Error(cause))
	return err
}

// notify fans the send out. Missing connections are normal.
func (r *Router) notify(ctx context.Context, chatID, sender, receiver, origin string, msg *data.Message, isNew bool) {
	senderRef := r.userRef(ctx, sender)
	receiverRef := r.userRef(ctx, receiver)
	payload := events.MessageOf(msg)

	delivered := r.reg.SendToUser(receiver, events.Frame{
		Event: events.MessageReceived,
		Data: events.MessageReceivedPayload{
			Message:    payload,
			SenderID:   sender,
			ReceiverID: receiver,
			IsNewChat:  isNew,
			OtherUser:  senderRef,
		},
	})
	if delivered == 0 {
		r.log.Debug("receiver offline", zap.String("user", receiver), zap.String("chat", chatID))
	}

	if origin != "" {
		r.reg.SendToConn(origin, events.Frame{
			Event: events.MessageSent,
			Data: events.MessageSentPayload{
				Message:    payload,
				ReceiverID: receiver,
				IsNewChat:  isNew,
				OtherUser:  receiverRef,
			},
		})
	}

	update := events.ChatUpdate{ChatID: chatID, LastMessage: msg.Text, UpdatedAt: msg.CreatedAt}
	r.reg.SendToUser(sender, events.Frame{
		Event: events.ChatUpdated,
		Data:  events.ChatUpdatedPayload{ChatUpdate: update, OtherUserID: receiver, IsNewChat: isNew, OtherUser: receiverRef},
	})
	r.reg.SendToUser(receiver, events.Frame{
		Event: events.ChatUpdated,
		Data:  events.ChatUpdatedPayload{ChatUpdate: update, OtherUserID: sender, IsNewChat: isNew, OtherUser: senderRef},
	})
}

// userRef looks a user up for display. Unknown users and lookup failures
// produce nil; the message is already durable at this point.
func (r *Router) userRef(ctx context.Context, id string) *events.UserRef {
	if r.users == nil {
		return nil
	}
	u, err := r.users.GetUserByID(ctx, id)
	if err != nil {
		if !errors.Is(err, data.ErrUserNotFound) {
			r.log.Warn("user lookup failed", zap.String("user", id), zap.Error(err))
		}
		return nil
	}
	return events.RefOf(u)
}
