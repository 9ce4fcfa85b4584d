package chat

import (
	"context"
	"sort"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/data"
	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/PaulBabatuyi/relaychat/internal/normalize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// chatListConcurrency bounds the parallel log reads in ListChats.
const chatListConcurrency = 8

// LoadHistory returns the messages exchanged with counterpartID, oldest
// first. No chat yet is an empty result, not an error.
func (r *Router) LoadHistory(ctx context.Context, userID, counterpartID string) ([]*data.Message, error) {
	userID = normalize.ID(userID)
	counterpartID = normalize.ID(counterpartID)
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if counterpartID == "" || counterpartID == userID {
		return nil, ErrInvalidParticipants
	}

	index, err := r.chats.ChatIndex(ctx, userID)
	if err != nil {
		err = storeErr("read chat index", err, false)
		r.log.Error("chat index unavailable", zap.String("user", userID), zap.Error(err))
		return nil, err
	}
	chat, ok := data.FindChatWith(index, counterpartID)
	if !ok {
		return []*data.Message{}, nil
	}

	msgs, err := r.chats.Messages(ctx, chat.ID)
	if err != nil {
		err = storeErr("read messages", err, false)
		r.log.Error("message log unavailable", zap.String("chat", chat.ID), zap.Error(err))
		return nil, err
	}
	return msgs, nil
}

// ChatView is a chat index entry plus the fields derived from the log at
// read time. Nothing here is stored.
type ChatView struct {
	ChatID        string          `json:"chatId"`
	Participants  []string        `json:"participants"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastMessage   string          `json:"lastMessage"`
	LastMessageAt *time.Time      `json:"lastMessageAt,omitempty"`
	MessageCount  int             `json:"messageCount"`
	OtherUserID   string          `json:"otherUserId"`
	OtherUser     *events.UserRef `json:"otherUser"`
}

func (v ChatView) activity() time.Time {
	if v.LastMessageAt != nil {
		return *v.LastMessageAt
	}
	return v.CreatedAt
}

// ListChats projects the user's chat index, most recent activity first.
func (r *Router) ListChats(ctx context.Context, userID string) ([]ChatView, error) {
	userID = normalize.ID(userID)
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	index, err := r.chats.ChatIndex(ctx, userID)
	if err != nil {
		err = storeErr("read chat index", err, false)
		r.log.Error("chat index unavailable", zap.String("user", userID), zap.Error(err))
		return nil, err
	}

	views := make([]ChatView, len(index))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chatListConcurrency)
	for i, chat := range index {
		i, chat := i, chat
		g.Go(func() error {
			msgs, err := r.chats.Messages(gctx, chat.ID)
			if err != nil {
				return storeErr("read messages", err, false)
			}
			other := chat.Counterpart(userID)
			v := ChatView{
				ChatID:       chat.ID,
				Participants: chat.Participants,
				CreatedAt:    chat.CreatedAt,
				MessageCount: len(msgs),
				OtherUserID:  other,
				OtherUser:    r.userRef(gctx, other),
			}
			if n := len(msgs); n > 0 {
				last := msgs[n-1]
				v.LastMessage = last.Text
				at := last.CreatedAt
				v.LastMessageAt = &at
			}
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Error("chat list unavailable", zap.String("user", userID), zap.Error(err))
		return nil, err
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].activity().After(views[j].activity())
	})
	return views, nil
}

// RepairChatIndex makes the chat between userID and counterpartID visible
// to both, copying it into whichever index lacks it. It returns the chat
// id and the users whose index was written; both empty when there is no
// chat or nothing to fix.
func (r *Router) RepairChatIndex(ctx context.Context, userID, counterpartID string) (string, []string, error) {
	userID = normalize.ID(userID)
	counterpartID = normalize.ID(counterpartID)
	if userID == "" || counterpartID == "" || userID == counterpartID {
		return "", nil, ErrInvalidParticipants
	}

	var mine, theirs []data.Chat
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		mine, err = r.chats.ChatIndex(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		theirs, err = r.chats.ChatIndex(gctx, counterpartID)
		return err
	})
	if err := g.Wait(); err != nil {
		err = storeErr("read chat index", err, false)
		r.log.Error("chat index unavailable", zap.Error(err))
		return "", nil, err
	}

	a, inMine := data.FindChatWith(mine, counterpartID)
	b, inTheirs := data.FindChatWith(theirs, userID)
	switch {
	case inMine && inTheirs:
		if a.ID != b.ID {
			r.log.Warn("participants index different chats", zap.String("mine", a.ID), zap.String("theirs", b.ID))
		}
		return a.ID, nil, nil
	case inMine:
		if err := r.appendIndex(ctx, counterpartID, a); err != nil {
			return "", nil, err
		}
		return a.ID, []string{counterpartID}, nil
	case inTheirs:
		if err := r.appendIndex(ctx, userID, b); err != nil {
			return "", nil, err
		}
		return b.ID, []string{userID}, nil
	default:
		return "", nil, nil
	}
}

func (r *Router) appendIndex(ctx context.Context, userID string, chat data.Chat) error {
	if err := r.chats.AppendChatIndex(ctx, userID, chat); err != nil {
		err = storeErr("repair chat index", err, true)
		r.log.Error("chat index repair failed", zap.String("chat", chat.ID), zap.String("user", userID), zap.Error(err))
		return err
	}
	r.log.Info("chat index repaired", zap.String("chat", chat.ID), zap.String("user", userID))
	return nil
}
