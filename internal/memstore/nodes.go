package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

func putNode(txn *memdb.Txn, n *data.Node) error {
	rec, err := newRecord(n.ID, n)
	if err != nil {
		return err
	}
	rec.Org = n.OrgID.Hex()
	return txn.Insert(string(n.Kind), rec)
}

func (s *Store) InsertNode(_ context.Context, n *data.Node) (*data.Node, error) {
	now := time.Now().UTC()
	n.ID = bson.NewObjectID()
	n.CreatedAt, n.UpdatedAt = now, now
	if err := s.write(func(txn *memdb.Txn) error { return putNode(txn, n) }); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Store) GetNode(_ context.Context, kind data.NodeKind, id bson.ObjectID) (*data.Node, error) {
	return byID[data.Node](s.read(), string(kind), string(kind), id)
}

func (s *Store) listByConnection(kind data.NodeKind, orgID bson.ObjectID, match func(data.Connection) bool) ([]*data.Node, error) {
	out, err := all(s.read(), string(kind), indexOrg, func(n *data.Node) bool {
		return slices.ContainsFunc(n.Connections, match)
	}, orgID.Hex())
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *data.Node) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) ListChildren(_ context.Context, kind data.NodeKind, orgID bson.ObjectID, p data.Principal, parentID *bson.ObjectID) ([]*data.Node, error) {
	return s.listByConnection(kind, orgID, func(c data.Connection) bool {
		if c.Principal != p {
			return false
		}
		if parentID == nil || c.ParentID == nil {
			return parentID == nil && c.ParentID == nil
		}
		return *c.ParentID == *parentID
	})
}

func (s *Store) ListDescendants(_ context.Context, kind data.NodeKind, orgID bson.ObjectID, p data.Principal, ancestor bson.ObjectID) ([]*data.Node, error) {
	return s.listByConnection(kind, orgID, func(c data.Connection) bool {
		return c.Principal == p && c.HasAncestor(ancestor)
	})
}

func (s *Store) updateNode(kind data.NodeKind, id bson.ObjectID, fn func(n *data.Node)) error {
	return s.write(func(txn *memdb.Txn) error {
		n, err := byID[data.Node](txn, string(kind), string(kind), id)
		if err != nil {
			return err
		}
		fn(n)
		return putNode(txn, n)
	})
}

func (s *Store) PutConnection(_ context.Context, kind data.NodeKind, id bson.ObjectID, c data.Connection) error {
	if err := c.Principal.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if c.ParentPaths == nil {
		c.ParentPaths = []bson.ObjectID{}
	}
	return s.updateNode(kind, id, func(n *data.Node) {
		n.UpdatedAt = time.Now().UTC()
		for i := range n.Connections {
			if n.Connections[i].Principal == c.Principal {
				n.Connections[i] = c
				return
			}
		}
		n.Connections = append(n.Connections, c)
	})
}

func (s *Store) RenameNode(_ context.Context, kind data.NodeKind, id bson.ObjectID, name string, at time.Time) error {
	return s.updateNode(kind, id, func(n *data.Node) {
		n.Name = name
		n.UpdatedAt = at
	})
}

func (s *Store) DeleteNode(_ context.Context, kind data.NodeKind, id bson.ObjectID) error {
	return s.write(func(txn *memdb.Txn) error {
		raw, err := txn.First(string(kind), indexID, id.Hex())
		if err != nil {
			return err
		}
		if raw == nil {
			return notFound(string(kind))
		}
		return txn.Delete(string(kind), raw)
	})
}
