package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// RoomsStore performs room DB operations.
type RoomsStore struct {
	coll *mongo.Collection
}

// NewRoomsStore returns a RoomsStore using the provided collection.
func NewRoomsStore(coll *mongo.Collection) *RoomsStore {
	return &RoomsStore{coll: coll}
}

func statusPath(participant, field string) string {
	return "userStatus." + participant + "." + field
}

// InsertRoom inserts a room. The partial unique indexes turn a second dm for
// the same participant set, or a second channel with the same name, into
// ErrConflict.
func (s *RoomsStore) InsertRoom(ctx context.Context, r *Room) (*Room, error) {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.UserStatus == nil {
		r.UserStatus = map[string]ParticipantStatus{}
	}
	res, err := s.coll.InsertOne(ctx, r)
	if err != nil {
		return nil, translate("room", err)
	}
	r.ID = res.InsertedID.(bson.ObjectID)
	return r, nil
}

// GetRoom finds a room by id, deleted or not.
func (s *RoomsStore) GetRoom(ctx context.Context, id bson.ObjectID) (*Room, error) {
	return findOne[Room](ctx, s.coll, "room", bson.M{"_id": id})
}

// FindDMRoom finds the live dm of a participant set.
func (s *RoomsStore) FindDMRoom(ctx context.Context, orgID bson.ObjectID, dmKey string) (*Room, error) {
	return findOne[Room](ctx, s.coll, "room", bson.M{
		"orgId":   orgID,
		"type":    RoomDM,
		"dmKey":   dmKey,
		"deleted": false,
	})
}

// ListRoomsForParticipant returns every room containing participant, most
// recently updated first.
func (s *RoomsStore) ListRoomsForParticipant(ctx context.Context, orgID bson.ObjectID, participant string) ([]*Room, error) {
	filter := bson.M{"users": participant}
	if !orgID.IsZero() {
		filter["orgId"] = orgID
	}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	return findAll[Room](ctx, s.coll, filter, opts)
}

// SetPresence flips the participant's online flag in all of its rooms at once.
func (s *RoomsStore) SetPresence(ctx context.Context, participant string, online bool, socketID string) (int64, error) {
	update := bson.M{"$set": bson.M{statusPath(participant, "online"): online}}
	if socketID != "" {
		update["$set"].(bson.M)[statusPath(participant, "socketId")] = socketID
	} else {
		update["$unset"] = bson.M{statusPath(participant, "socketId"): ""}
	}
	res, err := s.coll.UpdateMany(ctx, bson.M{"users": participant}, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

// RecordDelivery runs as a single pipeline update so concurrent deliveries
// never lose a notification increment, and the first-unread pointers are
// only written while unset.
func (s *RoomsStore) RecordDelivery(ctx context.Context, roomID bson.ObjectID, recipients []string, msgID bson.ObjectID, at time.Time) (*Room, error) {
	set := bson.D{
		{Key: "dmInitiated", Value: true},
		{Key: "lastMessageAt", Value: at},
		{Key: "updatedAt", Value: at},
	}
	for _, r := range recipients {
		notis, unread := statusPath(r, "notis"), statusPath(r, "unRead")
		firstUnread, firstNoti := statusPath(r, "firstUnReadmessage"), statusPath(r, "firstNotiMessage")
		set = append(set,
			bson.E{Key: notis, Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$" + notis, 0}}}, 1,
			}}}},
			bson.E{Key: unread, Value: true},
			bson.E{Key: firstUnread, Value: bson.D{{Key: "$ifNull", Value: bson.A{"$" + firstUnread, msgID}}}},
			bson.E{Key: firstNoti, Value: bson.D{{Key: "$ifNull", Value: bson.A{"$" + firstNoti, msgID}}}},
		)
	}
	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}}
	return findAndUpdate[Room](ctx, s.coll, "room", bson.M{"_id": roomID, "deleted": false}, pipeline)
}

// MarkRead clears the participant's unread state.
func (s *RoomsStore) MarkRead(ctx context.Context, roomID bson.ObjectID, participant string) (*Room, error) {
	update := bson.M{
		"$set": bson.M{
			statusPath(participant, "notis"):  0,
			statusPath(participant, "unRead"): false,
		},
		"$unset": bson.M{
			statusPath(participant, "firstUnReadmessage"): "",
			statusPath(participant, "firstNotiMessage"):   "",
		},
	}
	return findAndUpdate[Room](ctx, s.coll, "room", bson.M{"_id": roomID, "users": participant}, update)
}

// ReplaceParticipant rewrites the participant list conditioned on the
// placeholder still being present, so concurrent bindings of the same room
// apply once.
func (s *RoomsStore) ReplaceParticipant(ctx context.Context, roomID bson.ObjectID, placeholder string, bound RoomContact) (bool, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if !room.HasParticipant(placeholder) {
		return false, nil
	}
	users, dmKey, contacts := room.ReplacedParticipants(placeholder, bound)
	status := room.UserStatus[placeholder]

	set := bson.M{
		"users":     users,
		"contacts":  contacts,
		"updatedAt": time.Now().UTC(),
	}
	set["userStatus."+bound.Username] = status
	if dmKey != "" {
		set["dmKey"] = dmKey
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "users": placeholder},
		bson.M{"$set": set, "$unset": bson.M{"userStatus." + placeholder: ""}},
	)
	if err != nil {
		return false, translate("room", err)
	}
	return res.ModifiedCount > 0, nil
}

// SetRoomDeleted archives a room.
func (s *RoomsStore) SetRoomDeleted(ctx context.Context, roomID bson.ObjectID) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$set": bson.M{"deleted": true, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return notFound("room")
	}
	return nil
}
