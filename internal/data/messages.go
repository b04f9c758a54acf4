package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is the "messages" collection
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// InsertMessage saves a message and returns it with its id.
func (m *MessagesStore) InsertMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, translate("message", err)
	}
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// GetMessage finds a message by id.
func (m *MessagesStore) GetMessage(ctx context.Context, id bson.ObjectID) (*Message, error) {
	return findOne[Message](ctx, m.coll, "message", bson.M{"_id": id})
}

// ListMessages returns a page of a room's history, oldest first.
func (m *MessagesStore) ListMessages(ctx context.Context, roomID bson.ObjectID, before *time.Time, limit int64) ([]*Message, error) {
	// newest first so the limit keeps the most recent page
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit)

	filter := bson.M{"roomId": roomID}
	if before != nil {
		filter["createdAt"] = bson.M{"$lt": *before}
	}

	messages, err := findAll[Message](ctx, m.coll, filter, opts)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order for the client.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpdateMessageText replaces a message's text and stamps the edit time.
func (m *MessagesStore) UpdateMessageText(ctx context.Context, id bson.ObjectID, text string, at time.Time) (*Message, error) {
	return findAndUpdate[Message](ctx, m.coll, "message",
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"text": text, "editedAt": at}},
	)
}
