package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"
)

func (s *Store) CreateOrg(_ context.Context, o *data.Org) (*data.Org, error) {
	o.ID = bson.NewObjectID()
	o.CreatedAt = time.Now().UTC()
	err := s.write(func(txn *memdb.Txn) error {
		rec, err := newRecord(o.ID, o)
		if err != nil {
			return err
		}
		return txn.Insert(tableOrgs, rec)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetOrg(_ context.Context, id bson.ObjectID) (*data.Org, error) {
	o, err := byID[data.Org](s.read(), tableOrgs, "org", id)
	if err == nil && o.Deleted {
		return nil, notFound("org")
	}
	return o, err
}

func agentKey(orgID bson.ObjectID, username string) string {
	return orgID.Hex() + "|" + username
}

func (s *Store) CreateAgentProfile(_ context.Context, a *data.AgentProfile) (*data.AgentProfile, error) {
	a.ID = bson.NewObjectID()
	a.Username = normalize.Username(a.Username)
	a.CreatedAt = time.Now().UTC()
	err := s.write(func(txn *memdb.Txn) error {
		key := agentKey(a.OrgID, a.Username)
		if raw, _ := txn.First(tableAgents, indexKey, key); raw != nil {
			return conflict("agent profile")
		}
		rec, err := newRecord(a.ID, a)
		if err != nil {
			return err
		}
		rec.Org = a.OrgID.Hex()
		rec.Key = key
		return txn.Insert(tableAgents, rec)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) GetAgentProfile(_ context.Context, orgID bson.ObjectID, username string) (*data.AgentProfile, error) {
	a, err := first[data.AgentProfile](s.read(), tableAgents, "agent profile", indexKey, agentKey(orgID, normalize.Username(username)))
	if err == nil && a.Deleted {
		return nil, notFound("agent profile")
	}
	return a, err
}

func (s *Store) GetAgentProfileByID(_ context.Context, id bson.ObjectID) (*data.AgentProfile, error) {
	a, err := byID[data.AgentProfile](s.read(), tableAgents, "agent profile", id)
	if err == nil && a.Deleted {
		return nil, notFound("agent profile")
	}
	return a, err
}

func (s *Store) ListAgentProfiles(_ context.Context, orgID bson.ObjectID) ([]*data.AgentProfile, error) {
	out, err := all(s.read(), tableAgents, indexOrg, func(a *data.AgentProfile) bool { return !a.Deleted }, orgID.Hex())
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *data.AgentProfile) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}
