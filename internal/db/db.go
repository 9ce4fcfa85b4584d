// Package db manages MongoDB and Redis connections used by the storage backends.
package db

import (
	"context" // For connection timeout/cancellation
	"time"    // Duration for timeouts

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"  // MongoDB options
	"go.mongodb.org/mongo-driver/v2/mongo/readpref" // MongoDB read preference
)

// Collection names. userchats holds one document per user with the ordered
// chat index; messages is the append-only log for every chat.
const (
	usersCollection     = "users"
	userChatsCollection = "userchats"
	messagesCollection  = "messages"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (safe for concurrent use)
	client *mongo.Client

	// db is the application database; collections are created on first write
	db *mongo.Database
}

// New connects to MongoDB and returns a Client bound to database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	// fail fast if MongoDB is unreachable
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to MongoDB")
	}

	// Connect is lazy; the ping is the real connectivity check
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping MongoDB")
	}

	if database == "" {
		database = "chat_db"
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection(usersCollection)
}

// UserChatsCollection returns the per-user chat index collection.
func (c *Client) UserChatsCollection() *mongo.Collection {
	return c.db.Collection(userChatsCollection)
}

// MessagesCollection returns the message log collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection(messagesCollection)
}

// Ping checks the connection is still usable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== USERS =====
	// unique email: registration of an existing email must fail
	usersIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := c.UsersCollection().Indexes().CreateOne(ctx, usersIndexModel); err != nil {
		return errors.Wrap(err, "failed to create users index")
	}

	// ===== MESSAGES =====
	// history reads are "all messages of one chat, oldest first";
	// seq breaks ties between equal timestamps in insertion order
	messagesIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "chat_id", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "seq", Value: 1},
		},
	}
	if _, err := c.MessagesCollection().Indexes().CreateOne(ctx, messagesIndexModel); err != nil {
		return errors.Wrap(err, "failed to create message index")
	}

	// userchats is keyed by _id (the user id), which is always indexed
	return nil
}
