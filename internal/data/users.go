package data

import (
	"context" // Used for cancellation and timeouts
	"time"    // Timestamps

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoUsersStore performs user DB operations.
type MongoUsersStore struct {
	// coll is reference to "users" collection in MongoDB
	// Set via NewMongoUsersStore() and used in all methods below
	coll *mongo.Collection
}

// NewMongoUsersStore returns a MongoUsersStore using the provided collection.
func NewMongoUsersStore(coll *mongo.Collection) *MongoUsersStore {
	return &MongoUsersStore{coll: coll}
}

// CreateUser inserts a new user document with hashed password.
func (u *MongoUsersStore) CreateUser(ctx context.Context, email, username, hashedPassword string) (*User, error) {
	now := time.Now()
	// ids are generated here rather than by MongoDB so every backend
	// hands out the same id format
	user := &User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Avatar:    DefaultAvatar,
		Password:  hashedPassword, // Already hashed by auth.HashPassword()
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := u.coll.InsertOne(ctx, user); err != nil {
		// unique index on email rejects a second registration
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, classifyMongo(err, "insert user")
	}
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *MongoUsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return u.findOne(ctx, bson.M{"email": email})
}

// GetUserByID finds a user by id.
func (u *MongoUsersStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return u.findOne(ctx, bson.M{"_id": id})
}

func (u *MongoUsersStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, classifyMongo(err, "find user")
	}
	return &user, nil
}

// ListUsers returns up to limit users other than excludeID, sorted by username.
func (u *MongoUsersStore) ListUsers(ctx context.Context, excludeID string, limit int64) ([]*User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "username", Value: 1}}).
		SetProjection(bson.M{"password": 0}) // never ship hashes out of the store
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$ne": excludeID}}, opts)
	if err != nil {
		return nil, classifyMongo(err, "list users")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var users []*User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, classifyMongo(err, "decode users")
	}
	return users, nil
}

// classifyMongo wraps err, marking connectivity failures with ErrUnavailable.
func classifyMongo(err error, op string) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected) {
		return errors.Wrapf(ErrUnavailable, "%s: %v", op, err)
	}
	return errors.Wrap(err, op)
}
