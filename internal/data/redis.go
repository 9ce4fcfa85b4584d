package data

import (
	"context"
	"encoding/json"
	"net"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Appends the chat summary (ARGV[2]) to the index list unless its id
// (ARGV[1]) is already in the companion set.
// KEYS[1]=index list, KEYS[2]=id set. Returns 1 when appended, 0 otherwise.
var luaAppendIndex = redis.NewScript(`
  if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
    return 0
  end
  redis.call('RPUSH', KEYS[1], ARGV[2])
  return 1
`)

// RedisChatStore keeps chat indexes and message logs in Redis lists.
//
//	relay:userchats:<userID>      list of JSON Chat, append order
//	relay:userchats:<userID>:ids  set of chat ids in the list
//	relay:chat:<chatID>:messages  list of JSON Message, append order
type RedisChatStore struct {
	rdb redis.UniversalClient
}

// NewRedisChatStore returns a RedisChatStore using rdb.
func NewRedisChatStore(rdb redis.UniversalClient) *RedisChatStore {
	return &RedisChatStore{rdb: rdb}
}

func indexKey(userID string) string    { return "relay:userchats:" + userID }
func indexIDsKey(userID string) string { return "relay:userchats:" + userID + ":ids" }
func messagesKey(chatID string) string { return "relay:chat:" + chatID + ":messages" }

// ChatIndex returns the user's chat index, empty if the key is absent.
func (s *RedisChatStore) ChatIndex(ctx context.Context, userID string) ([]Chat, error) {
	vals, err := s.rdb.LRange(ctx, indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, classifyRedis(err, "read chat index")
	}
	out := make([]Chat, 0, len(vals))
	for _, v := range vals {
		var c Chat
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, errors.Wrap(err, "decode chat summary")
		}
		out = append(out, c)
	}
	return out, nil
}

// AppendChatIndex atomically appends chat unless it is already indexed.
func (s *RedisChatStore) AppendChatIndex(ctx context.Context, userID string, chat Chat) error {
	b, err := json.Marshal(chat)
	if err != nil {
		return errors.Wrap(err, "encode chat summary")
	}
	keys := []string{indexKey(userID), indexIDsKey(userID)}
	if err := luaAppendIndex.Run(ctx, s.rdb, keys, chat.ID, b).Err(); err != nil {
		return classifyRedis(err, "append chat index")
	}
	return nil
}

// AppendMessage pushes msg onto the chat's list.
func (s *RedisChatStore) AppendMessage(ctx context.Context, chatID string, msg *Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	if err := s.rdb.RPush(ctx, messagesKey(chatID), b).Err(); err != nil {
		return classifyRedis(err, "append message")
	}
	return nil
}

// Messages returns the chat's messages ordered by creation time; list order
// breaks ties.
func (s *RedisChatStore) Messages(ctx context.Context, chatID string) ([]*Message, error) {
	vals, err := s.rdb.LRange(ctx, messagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, classifyRedis(err, "read messages")
	}
	out := make([]*Message, 0, len(vals))
	for _, v := range vals {
		m := new(Message)
		if err := json.Unmarshal([]byte(v), m); err != nil {
			return nil, errors.Wrap(err, "decode message")
		}
		out = append(out, m)
	}
	sortMessages(out)
	return out, nil
}

// classifyRedis wraps err, marking connectivity failures with ErrUnavailable.
func classifyRedis(err error, op string) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(ErrUnavailable, "%s: %v", op, err)
	}
	return errors.Wrap(err, op)
}
