package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

func messageRecord(m *data.Message) (*record, error) {
	rec, err := newRecord(m.ID, m)
	if err != nil {
		return nil, err
	}
	rec.Org = m.OrgID.Hex()
	rec.Parent = m.RoomID.Hex()
	return rec, nil
}

func (s *Store) InsertMessage(_ context.Context, m *data.Message) (*data.Message, error) {
	m.ID = bson.NewObjectID()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := s.write(func(txn *memdb.Txn) error {
		rec, err := messageRecord(m)
		if err != nil {
			return err
		}
		return txn.Insert(tableMessages, rec)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) GetMessage(_ context.Context, id bson.ObjectID) (*data.Message, error) {
	return byID[data.Message](s.read(), tableMessages, "message", id)
}

func (s *Store) ListMessages(_ context.Context, roomID bson.ObjectID, before *time.Time, limit int64) ([]*data.Message, error) {
	out, err := all(s.read(), tableMessages, indexParent, func(m *data.Message) bool {
		return before == nil || m.CreatedAt.Before(*before)
	}, roomID.Hex())
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *data.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (s *Store) UpdateMessageText(_ context.Context, id bson.ObjectID, text string, at time.Time) (*data.Message, error) {
	var out *data.Message
	err := s.write(func(txn *memdb.Txn) error {
		m, err := byID[data.Message](txn, tableMessages, "message", id)
		if err != nil {
			return err
		}
		m.Text = text
		m.EditedAt = &at
		rec, err := messageRecord(m)
		if err != nil {
			return err
		}
		out = m
		return txn.Insert(tableMessages, rec)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
