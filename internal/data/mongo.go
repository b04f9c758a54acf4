package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/db"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore is the MongoDB-backed Store.
type MongoStore struct {
	*UsersStore
	*OrgsStore
	*ContactsStore
	*RoomsStore
	*MessagesStore
	*NodesStore
	*SharesStore
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore builds every collection store on c.
func NewMongoStore(c *db.Client) *MongoStore {
	return &MongoStore{
		UsersStore:    NewUsersStore(c.Collection(db.Users)),
		OrgsStore:     NewOrgsStore(c.Collection(db.Orgs), c.Collection(db.AgentProfiles)),
		ContactsStore: NewContactsStore(c.Collection(db.Contacts)),
		RoomsStore:    NewRoomsStore(c.Collection(db.Rooms)),
		MessagesStore: NewMessagesStore(c.Collection(db.Messages)),
		NodesStore:    NewNodesStore(c.Collection(db.Folders), c.Collection(db.Files)),
		SharesStore:   NewSharesStore(c.Collection(db.FileShares)),
	}
}

// translate maps driver errors onto the apperr taxonomy. what names the
// entity for the error text, e.g. "user".
func translate(what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s %w", what, apperr.ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s already exists: %w", what, apperr.ErrConflict)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, what string, filter any) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter).Decode(&out); err != nil {
		return nil, translate(what, err)
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...options.Lister[options.FindOptions]) ([]*T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []*T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// findAndUpdate applies update to the single matching document and returns
// it as it is after the update.
func findAndUpdate[T any](ctx context.Context, coll *mongo.Collection, what string, filter, update any) (*T, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var out T
	if err := coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return nil, translate(what, err)
	}
	return &out, nil
}

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, apperr.ErrNotFound)
}
