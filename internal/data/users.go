package data

import (
	"context"
	"regexp"
	"time"

	"github.com/PaulBabatuyi/realtyhub/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	// coll is the "users" collection
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user. The password must already be hashed.
func (u *UsersStore) CreateUser(ctx context.Context, user *User) (*User, error) {
	now := time.Now().UTC()
	user.Username = normalize.Username(user.Username)
	for i := range user.Emails {
		user.Emails[i].Address = normalize.Email(user.Emails[i].Address)
	}
	user.CreatedAt, user.UpdatedAt = now, now

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// duplicate username or email
		return nil, translate("user", err)
	}
	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	return findOne[User](ctx, u.coll, "user", bson.M{"_id": id, "deleted": false})
}

// GetUserByUsername finds a user by username.
func (u *UsersStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return findOne[User](ctx, u.coll, "user", bson.M{"username": normalize.Username(username), "deleted": false})
}

// GetUserByEmail finds a user by any of their addresses.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return findOne[User](ctx, u.coll, "user", bson.M{"emails.address": normalize.Email(email), "deleted": false})
}

// GetUsersByUsernames returns the users that exist among usernames. Missing
// usernames (e.g. contact placeholders) are skipped.
func (u *UsersStore) GetUsersByUsernames(ctx context.Context, usernames []string) ([]*User, error) {
	if len(usernames) == 0 {
		return []*User{}, nil
	}
	return findAll[User](ctx, u.coll, bson.M{"username": bson.M{"$in": usernames}, "deleted": false})
}

// SetUserSocket records the user's current live connection id.
func (u *UsersStore) SetUserSocket(ctx context.Context, username, socketID string) error {
	res, err := u.coll.UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{"socketId": socketID, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return notFound("user")
	}
	return nil
}

// ClearUserSocket unsets the socket id only if it is still socketID, so a
// stale disconnect cannot clobber a newer connection.
func (u *UsersStore) ClearUserSocket(ctx context.Context, username, socketID string) (bool, error) {
	res, err := u.coll.UpdateOne(ctx,
		bson.M{"username": username, "socketId": socketID},
		bson.M{"$unset": bson.M{"socketId": ""}, "$set": bson.M{"updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// ListUsersOnNode returns users whose socket id was issued by node.
func (u *UsersStore) ListUsersOnNode(ctx context.Context, node string) ([]*User, error) {
	prefix := "^" + regexp.QuoteMeta(node+".")
	return findAll[User](ctx, u.coll, bson.M{"socketId": bson.M{"$regex": prefix}})
}
