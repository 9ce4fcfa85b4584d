package data

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// userChatsDoc is one document per user in the userchats collection.
type userChatsDoc struct {
	UserID string `bson:"_id"`
	Chats  []Chat `bson:"chats"`
}

// messageDoc is a Message plus its chat key and an insertion sequence.
type messageDoc struct {
	Message `bson:",inline"`

	ChatID string        `bson:"chat_id"`
	Seq    bson.ObjectID `bson:"seq"`
}

// MongoChatStore stores chat indexes and message logs in MongoDB.
type MongoChatStore struct {
	// userChats holds {_id: userID, chats: [...]}
	userChats *mongo.Collection

	// messages holds one document per message tagged with chat_id
	messages *mongo.Collection
}

// NewMongoChatStore returns a MongoChatStore over the two collections.
func NewMongoChatStore(userChats, messages *mongo.Collection) *MongoChatStore {
	return &MongoChatStore{userChats: userChats, messages: messages}
}

// ChatIndex returns the user's chat index, empty if the user has none.
func (s *MongoChatStore) ChatIndex(ctx context.Context, userID string) ([]Chat, error) {
	var doc userChatsDoc
	err := s.userChats.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []Chat{}, nil
		}
		return nil, classifyMongo(err, "read chat index")
	}
	if doc.Chats == nil {
		return []Chat{}, nil
	}
	return doc.Chats, nil
}

// AppendChatIndex pushes chat onto the user's index, creating the document
// on first use.
func (s *MongoChatStore) AppendChatIndex(ctx context.Context, userID string, chat Chat) error {
	// match only when the chat is not already indexed
	filter := bson.M{"_id": userID, "chats.chat_id": bson.M{"$ne": chat.ID}}
	update := bson.M{"$push": bson.M{"chats": chat}}

	_, err := s.userChats.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return classifyMongo(err, "append chat index")
	}

	// The upsert collided on _id: either the document already holds the
	// chat, or a concurrent first write created it. The server does not
	// retry upserts with a $ne filter, so push again without upsert.
	res, err := s.userChats.UpdateOne(ctx, filter, update)
	if err != nil {
		return classifyMongo(err, "append chat index")
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.userChats.CountDocuments(ctx, bson.M{"_id": userID, "chats.chat_id": chat.ID})
	if err != nil {
		return classifyMongo(err, "append chat index")
	}
	if n == 0 {
		return errors.Errorf("append chat index: chat %s not indexed for %s", chat.ID, userID)
	}
	return nil
}

// AppendMessage inserts msg into the messages collection under chatID.
func (s *MongoChatStore) AppendMessage(ctx context.Context, chatID string, msg *Message) error {
	doc := messageDoc{
		Message: *msg,
		ChatID:  chatID,
		// ObjectIDs grow monotonically within a process; used as the tie-breaker
		Seq: bson.NewObjectID(),
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return classifyMongo(err, "append message")
	}
	return nil
}

// Messages returns every message of chatID, oldest first.
func (s *MongoChatStore) Messages(ctx context.Context, chatID string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "seq", Value: 1},
	})

	cursor, err := s.messages.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, classifyMongo(err, "find messages")
	}
	defer func() { _ = cursor.Close(ctx) }()

	msgs := make([]*Message, 0)
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode message")
		}
		m := doc.Message
		msgs = append(msgs, &m)
	}
	if err := cursor.Err(); err != nil {
		return nil, classifyMongo(err, "iterate messages")
	}

	// Mongo stores milliseconds; the stable sort keeps seq order on equal times
	sortMessages(msgs)
	return msgs, nil
}
