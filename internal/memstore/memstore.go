// Package memstore is an in-memory data.Store built on go-memdb. It backs
// development runs without MongoDB and the service tests.
//
// Every table holds records of the same shape: the bson-encoded document plus
// the handful of string keys it is looked up by. Write transactions are
// serialized by memdb, which is what makes the read-modify-write updates
// below atomic.
package memstore

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

const (
	tableUsers    = "users"
	tableOrgs     = "orgs"
	tableAgents   = "agents"
	tableContacts = "contacts"
	tableRooms    = "rooms"
	tableMessages = "messages"
	tableShares   = "shares"

	indexID      = "id"
	indexOrg     = "org"
	indexParent  = "parent"
	indexKey     = "key"
	indexMembers = "members"
)

// record is the row stored in every table.
type record struct {
	ID      string
	Org     string
	Parent  string
	Key     string
	Members []string
	Doc     []byte
}

func tableSchema(name string) *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: name,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
			indexOrg: {
				Name:         indexOrg,
				AllowMissing: true,
				Indexer:      &memdb.StringFieldIndex{Field: "Org"},
			},
			indexParent: {
				Name:         indexParent,
				AllowMissing: true,
				Indexer:      &memdb.StringFieldIndex{Field: "Parent"},
			},
			indexKey: {
				Name:         indexKey,
				AllowMissing: true,
				Indexer:      &memdb.StringFieldIndex{Field: "Key"},
			},
			indexMembers: {
				Name:         indexMembers,
				AllowMissing: true,
				Indexer:      &memdb.StringSliceFieldIndex{Field: "Members"},
			},
		},
	}
}

func schema() *memdb.DBSchema {
	s := &memdb.DBSchema{Tables: map[string]*memdb.TableSchema{}}
	for _, name := range []string{
		tableUsers, tableOrgs, tableAgents, tableContacts, tableRooms, tableMessages, tableShares,
		string(data.KindFolder), string(data.KindFile),
	} {
		s.Tables[name] = tableSchema(name)
	}
	return s
}

// Store implements data.Store in memory.
type Store struct {
	db *memdb.MemDB
}

var _ data.Store = (*Store)(nil)

// New returns an empty Store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	return &Store{db: db}, nil
}

func newRecord(id bson.ObjectID, v any) (*record, error) {
	doc, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &record{ID: id.Hex(), Doc: doc}, nil
}

func decode[T any](raw any) (*T, error) {
	var v T
	if err := bson.Unmarshal(raw.(*record).Doc, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func first[T any](txn *memdb.Txn, table, what, index string, args ...any) (*T, error) {
	raw, err := txn.First(table, index, args...)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%s %w", what, apperr.ErrNotFound)
	}
	return decode[T](raw)
}

func byID[T any](txn *memdb.Txn, table, what string, id bson.ObjectID) (*T, error) {
	return first[T](txn, table, what, indexID, id.Hex())
}

// all decodes every record matched by index and keeps those accepted by keep.
func all[T any](txn *memdb.Txn, table, index string, keep func(*T) bool, args ...any) ([]*T, error) {
	it, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, err
	}
	out := []*T{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		v, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func conflict(what string) error {
	return fmt.Errorf("%s already exists: %w", what, apperr.ErrConflict)
}

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, apperr.ErrNotFound)
}

// write runs fn in a write transaction and commits when it succeeds.
func (s *Store) write(fn func(txn *memdb.Txn) error) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) read() *memdb.Txn {
	return s.db.Txn(false)
}
