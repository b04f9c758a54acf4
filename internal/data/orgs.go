package data

import (
	"context"
	"time"

	"github.com/PaulBabatuyi/realtyhub/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// OrgsStore performs org and agent profile DB operations.
type OrgsStore struct {
	orgs   *mongo.Collection
	agents *mongo.Collection
}

// NewOrgsStore returns an OrgsStore on the orgs and agent profile collections.
func NewOrgsStore(orgs, agents *mongo.Collection) *OrgsStore {
	return &OrgsStore{orgs: orgs, agents: agents}
}

// CreateOrg inserts an org.
func (s *OrgsStore) CreateOrg(ctx context.Context, o *Org) (*Org, error) {
	o.CreatedAt = time.Now().UTC()
	res, err := s.orgs.InsertOne(ctx, o)
	if err != nil {
		return nil, translate("org", err)
	}
	o.ID = res.InsertedID.(bson.ObjectID)
	return o, nil
}

// GetOrg finds a live org by id.
func (s *OrgsStore) GetOrg(ctx context.Context, id bson.ObjectID) (*Org, error) {
	return findOne[Org](ctx, s.orgs, "org", bson.M{"_id": id, "deleted": false})
}

// CreateAgentProfile adds a user to an org. A second profile for the same
// (org, username) is a conflict.
func (s *OrgsStore) CreateAgentProfile(ctx context.Context, a *AgentProfile) (*AgentProfile, error) {
	a.Username = normalize.Username(a.Username)
	a.CreatedAt = time.Now().UTC()
	res, err := s.agents.InsertOne(ctx, a)
	if err != nil {
		return nil, translate("agent profile", err)
	}
	a.ID = res.InsertedID.(bson.ObjectID)
	return a, nil
}

// GetAgentProfile finds the profile of username within orgID.
func (s *OrgsStore) GetAgentProfile(ctx context.Context, orgID bson.ObjectID, username string) (*AgentProfile, error) {
	return findOne[AgentProfile](ctx, s.agents, "agent profile", bson.M{
		"orgId":    orgID,
		"username": normalize.Username(username),
		"deleted":  false,
	})
}

// GetAgentProfileByID finds a profile by id.
func (s *OrgsStore) GetAgentProfileByID(ctx context.Context, id bson.ObjectID) (*AgentProfile, error) {
	return findOne[AgentProfile](ctx, s.agents, "agent profile", bson.M{"_id": id, "deleted": false})
}

// ListAgentProfiles returns an org's profiles, oldest first.
func (s *OrgsStore) ListAgentProfiles(ctx context.Context, orgID bson.ObjectID) ([]*AgentProfile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	return findAll[AgentProfile](ctx, s.agents, bson.M{"orgId": orgID, "deleted": false}, opts)
}
