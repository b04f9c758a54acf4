package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// SharesStore performs file share DB operations.
type SharesStore struct {
	coll *mongo.Collection
}

// NewSharesStore returns a SharesStore using the provided collection.
func NewSharesStore(coll *mongo.Collection) *SharesStore {
	return &SharesStore{coll: coll}
}

// CreateFileShare inserts a share. The codeword must already be hashed.
func (s *SharesStore) CreateFileShare(ctx context.Context, sh *FileShare) (*FileShare, error) {
	sh.CreatedAt = time.Now().UTC()
	res, err := s.coll.InsertOne(ctx, sh)
	if err != nil {
		return nil, translate("share", err)
	}
	sh.ID = res.InsertedID.(bson.ObjectID)
	return sh, nil
}

// GetFileShareByToken finds a share by its public token.
func (s *SharesStore) GetFileShareByToken(ctx context.Context, token string) (*FileShare, error) {
	return findOne[FileShare](ctx, s.coll, "share", bson.M{"token": token})
}
