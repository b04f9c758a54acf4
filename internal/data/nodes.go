package data

import (
	"context"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// NodesStore performs folder and file DB operations. Folders and files share
// a document shape but live in separate collections.
type NodesStore struct {
	folders *mongo.Collection
	files   *mongo.Collection
}

// NewNodesStore returns a NodesStore on the folders and files collections.
func NewNodesStore(folders, files *mongo.Collection) *NodesStore {
	return &NodesStore{folders: folders, files: files}
}

func (s *NodesStore) coll(kind NodeKind) *mongo.Collection {
	if kind == KindFile {
		return s.files
	}
	return s.folders
}

func principalMatch(p Principal) bson.M {
	return bson.M{"kind": p.Kind, "principalId": p.ID}
}

// InsertNode inserts a folder or file according to n.Kind.
func (s *NodesStore) InsertNode(ctx context.Context, n *Node) (*Node, error) {
	now := time.Now().UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	res, err := s.coll(n.Kind).InsertOne(ctx, n)
	if err != nil {
		return nil, translate(string(n.Kind), err)
	}
	n.ID = res.InsertedID.(bson.ObjectID)
	return n, nil
}

// GetNode finds a folder or file by id.
func (s *NodesStore) GetNode(ctx context.Context, kind NodeKind, id bson.ObjectID) (*Node, error) {
	return findOne[Node](ctx, s.coll(kind), string(kind), bson.M{"_id": id})
}

// ListChildren lists nodes placed directly under parentID in p's tree.
func (s *NodesStore) ListChildren(ctx context.Context, kind NodeKind, orgID bson.ObjectID, p Principal, parentID *bson.ObjectID) ([]*Node, error) {
	match := principalMatch(p)
	// a nil parent matches null, i.e. a root placement
	match["parentId"] = parentID
	filter := bson.M{"orgId": orgID, "connections": bson.M{"$elemMatch": match}}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	return findAll[Node](ctx, s.coll(kind), filter, opts)
}

// ListDescendants lists nodes anywhere below ancestor in p's tree.
func (s *NodesStore) ListDescendants(ctx context.Context, kind NodeKind, orgID bson.ObjectID, p Principal, ancestor bson.ObjectID) ([]*Node, error) {
	match := principalMatch(p)
	match["parentPaths"] = ancestor
	filter := bson.M{"orgId": orgID, "connections": bson.M{"$elemMatch": match}}
	return findAll[Node](ctx, s.coll(kind), filter)
}

// PutConnection upserts the node's connection for c.Principal. It first
// updates an existing element in place, then appends only if the node
// still has no connection for that principal.
func (s *NodesStore) PutConnection(ctx context.Context, kind NodeKind, id bson.ObjectID, c Connection) error {
	if err := c.Principal.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if c.ParentPaths == nil {
		c.ParentPaths = []bson.ObjectID{}
	}
	coll := s.coll(kind)
	now := time.Now().UTC()

	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": id, "connections": bson.M{"$elemMatch": principalMatch(c.Principal)}},
		bson.M{"$set": bson.M{"connections.$": c, "updatedAt": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	res, err = coll.UpdateOne(ctx,
		bson.M{"_id": id, "connections": bson.M{"$not": bson.M{"$elemMatch": principalMatch(c.Principal)}}},
		bson.M{"$push": bson.M{"connections": c}, "$set": bson.M{"updatedAt": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if _, err := s.GetNode(ctx, kind, id); err != nil {
		return err
	}
	// another writer appended the same principal between our two updates
	return fmt.Errorf("%s connection for %s: %w", kind, c.Principal, apperr.ErrConflict)
}

// RenameNode renames a folder or file.
func (s *NodesStore) RenameNode(ctx context.Context, kind NodeKind, id bson.ObjectID, name string, at time.Time) error {
	res, err := s.coll(kind).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"name": name, "updatedAt": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return notFound(string(kind))
	}
	return nil
}

// DeleteNode removes a folder or file document.
func (s *NodesStore) DeleteNode(ctx context.Context, kind NodeKind, id bson.ObjectID) error {
	res, err := s.coll(kind).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return notFound(string(kind))
	}
	return nil
}
