package memstore

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

func (s *Store) CreateFileShare(_ context.Context, sh *data.FileShare) (*data.FileShare, error) {
	sh.ID = bson.NewObjectID()
	sh.CreatedAt = time.Now().UTC()
	err := s.write(func(txn *memdb.Txn) error {
		if raw, _ := txn.First(tableShares, indexKey, sh.Token); raw != nil {
			return conflict("share")
		}
		rec, err := newRecord(sh.ID, sh)
		if err != nil {
			return err
		}
		rec.Org = sh.OrgID.Hex()
		rec.Key = sh.Token
		return txn.Insert(tableShares, rec)
	})
	if err != nil {
		return nil, err
	}
	return sh, nil
}

func (s *Store) GetFileShareByToken(_ context.Context, token string) (*data.FileShare, error) {
	return first[data.FileShare](s.read(), tableShares, "share", indexKey, token)
}
