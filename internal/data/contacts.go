package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ContactsStore performs contact DB operations.
type ContactsStore struct {
	coll *mongo.Collection
}

// NewContactsStore returns a ContactsStore using the provided collection.
func NewContactsStore(coll *mongo.Collection) *ContactsStore {
	return &ContactsStore{coll: coll}
}

// CreateContact inserts a contact.
func (s *ContactsStore) CreateContact(ctx context.Context, c *Contact) (*Contact, error) {
	c.Email = normalize.Email(c.Email)
	c.CreatedAt = time.Now().UTC()
	res, err := s.coll.InsertOne(ctx, c)
	if err != nil {
		return nil, translate("contact", err)
	}
	c.ID = res.InsertedID.(bson.ObjectID)
	return c, nil
}

// GetContact finds a live contact by id.
func (s *ContactsStore) GetContact(ctx context.Context, id bson.ObjectID) (*Contact, error) {
	return findOne[Contact](ctx, s.coll, "contact", bson.M{"_id": id, "deleted": false})
}

// GetContactByInviteCode finds the live contact issued code.
func (s *ContactsStore) GetContactByInviteCode(ctx context.Context, code string) (*Contact, error) {
	return findOne[Contact](ctx, s.coll, "invite", bson.M{"inviteCode": code, "deleted": false})
}

// ListContactsByAgent returns the contacts owned by an agent profile.
func (s *ContactsStore) ListContactsByAgent(ctx context.Context, agentID bson.ObjectID) ([]*Contact, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	return findAll[Contact](ctx, s.coll, bson.M{"agentId": agentID, "deleted": false}, opts)
}

// ListContactsByUser returns the contacts bound to username. A zero orgID
// lists them across every org.
func (s *ContactsStore) ListContactsByUser(ctx context.Context, orgID bson.ObjectID, username string) ([]*Contact, error) {
	filter := bson.M{"username": normalize.Username(username), "deleted": false}
	if !orgID.IsZero() {
		filter["orgId"] = orgID
	}
	return findAll[Contact](ctx, s.coll, filter)
}

// BindContact atomically binds the contact to username and consumes its
// invite.
func (s *ContactsStore) BindContact(ctx context.Context, id bson.ObjectID, username string) (*Contact, error) {
	filter := bson.M{
		"_id":        id,
		"deleted":    false,
		"inviteUsed": false,
		"username":   bson.M{"$exists": false},
	}
	update := bson.M{"$set": bson.M{"username": normalize.Username(username), "inviteUsed": true}}

	c, err := findAndUpdate[Contact](ctx, s.coll, "contact", filter, update)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		// the (agent, username) unique index reports a second binding
		return nil, err
	}
	// Distinguish a used invite from a missing contact.
	if _, getErr := s.GetContact(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("invite already used: %w", apperr.ErrConflict)
}

// DeleteContact soft-deletes a contact.
func (s *ContactsStore) DeleteContact(ctx context.Context, id bson.ObjectID) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return notFound("contact")
	}
	return nil
}
