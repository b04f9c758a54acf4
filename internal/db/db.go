// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection names.
const (
	Users         = "users"
	Orgs          = "orgs"
	AgentProfiles = "agent_profiles"
	Contacts      = "contacts"
	Rooms         = "rooms"
	Messages      = "messages"
	Folders       = "folders"
	Files         = "files"
	FileShares    = "file_shares"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	db *mongo.Database
}

// New connects to MongoDB and returns a Client for database dbName.
func New(ctx context.Context, mongoURI, dbName string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(dbName),
	}, nil
}

// Collection returns the named collection.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Ping checks the primary is reachable; used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes every store relies on. The unique
// indexes are what make dm creation, channel names, invite codes and
// contact binding safe across processes.
func (c *Client) CreateIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		Users: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "emails.address", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "socketId", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		AgentProfiles: {
			{Keys: bson.D{{Key: "orgId", Value: 1}, {Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		Contacts: {
			{
				Keys:    bson.D{{Key: "inviteCode", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.D{{Key: "inviteCode", Value: bson.D{{Key: "$exists", Value: true}}}}),
			},
			{
				// a user binds to at most one contact per agent
				Keys:    bson.D{{Key: "agentId", Value: 1}, {Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.D{
					{Key: "username", Value: bson.D{{Key: "$exists", Value: true}}},
					{Key: "deleted", Value: false},
				}),
			},
			{Keys: bson.D{{Key: "orgId", Value: 1}, {Key: "username", Value: 1}}},
		},
		Rooms: {
			{
				Keys: bson.D{{Key: "orgId", Value: 1}, {Key: "dmKey", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.D{
					{Key: "type", Value: "dm"},
					{Key: "deleted", Value: false},
				}),
			},
			{
				Keys:    bson.D{{Key: "orgId", Value: 1}, {Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.D{{Key: "type", Value: "channel"}}),
			},
			{Keys: bson.D{{Key: "users", Value: 1}}},
		},
		Messages: {
			{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		FileShares: {
			{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	nodeIndexes := []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "orgId", Value: 1},
			{Key: "connections.kind", Value: 1},
			{Key: "connections.principalId", Value: 1},
			{Key: "connections.parentId", Value: 1},
		}},
		{Keys: bson.D{{Key: "connections.parentPaths", Value: 1}}},
	}
	indexes[Folders] = nodeIndexes
	indexes[Files] = nodeIndexes

	for name, models := range indexes {
		if _, err := c.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
	}
	return nil
}
