package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

// roomKey is the uniqueness key of a room within its org: the participant
// key of a live dm, or the name of a channel.
func roomKey(r *data.Room) string {
	switch {
	case r.Type == data.RoomDM && !r.Deleted:
		return r.OrgID.Hex() + "|dm|" + r.DMKey
	case r.Type == data.RoomChannel:
		return r.OrgID.Hex() + "|channel|" + r.Name
	}
	return ""
}

func roomRecord(r *data.Room) (*record, error) {
	rec, err := newRecord(r.ID, r)
	if err != nil {
		return nil, err
	}
	rec.Org = r.OrgID.Hex()
	rec.Key = roomKey(r)
	rec.Members = r.Users
	return rec, nil
}

func putRoom(txn *memdb.Txn, r *data.Room) error {
	if key := roomKey(r); key != "" {
		raw, err := txn.First(tableRooms, indexKey, key)
		if err != nil {
			return err
		}
		if raw != nil && raw.(*record).ID != r.ID.Hex() {
			return conflict("room")
		}
	}
	rec, err := roomRecord(r)
	if err != nil {
		return err
	}
	return txn.Insert(tableRooms, rec)
}

func (s *Store) InsertRoom(_ context.Context, r *data.Room) (*data.Room, error) {
	now := time.Now().UTC()
	r.ID = bson.NewObjectID()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.UserStatus == nil {
		r.UserStatus = map[string]data.ParticipantStatus{}
	}
	if err := s.write(func(txn *memdb.Txn) error { return putRoom(txn, r) }); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) GetRoom(_ context.Context, id bson.ObjectID) (*data.Room, error) {
	return byID[data.Room](s.read(), tableRooms, "room", id)
}

func (s *Store) FindDMRoom(_ context.Context, orgID bson.ObjectID, dmKey string) (*data.Room, error) {
	want := &data.Room{OrgID: orgID, Type: data.RoomDM, DMKey: dmKey}
	return first[data.Room](s.read(), tableRooms, "room", indexKey, roomKey(want))
}

func (s *Store) ListRoomsForParticipant(_ context.Context, orgID bson.ObjectID, participant string) ([]*data.Room, error) {
	out, err := all(s.read(), tableRooms, indexMembers, func(r *data.Room) bool {
		return orgID.IsZero() || r.OrgID == orgID
	}, participant)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *data.Room) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

// updateRoom applies fn to one room inside a write transaction and returns
// the stored result.
func (s *Store) updateRoom(id bson.ObjectID, fn func(r *data.Room) (bool, error)) (*data.Room, bool, error) {
	var out *data.Room
	changed := false
	err := s.write(func(txn *memdb.Txn) error {
		r, err := byID[data.Room](txn, tableRooms, "room", id)
		if err != nil {
			return err
		}
		if r.UserStatus == nil {
			r.UserStatus = map[string]data.ParticipantStatus{}
		}
		ok, err := fn(r)
		if err != nil {
			return err
		}
		out = r
		if !ok {
			return nil
		}
		changed = true
		return putRoom(txn, r)
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (s *Store) SetPresence(_ context.Context, participant string, online bool, socketID string) (int64, error) {
	var n int64
	err := s.write(func(txn *memdb.Txn) error {
		rooms, err := all[data.Room](txn, tableRooms, indexMembers, nil, participant)
		if err != nil {
			return err
		}
		for _, r := range rooms {
			if r.UserStatus == nil {
				r.UserStatus = map[string]data.ParticipantStatus{}
			}
			st := r.UserStatus[participant]
			st.Online = online
			st.SocketID = socketID
			r.UserStatus[participant] = st
			if err := putRoom(txn, r); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) RecordDelivery(_ context.Context, roomID bson.ObjectID, recipients []string, msgID bson.ObjectID, at time.Time) (*data.Room, error) {
	r, _, err := s.updateRoom(roomID, func(r *data.Room) (bool, error) {
		if r.Deleted {
			return false, notFound("room")
		}
		for _, p := range recipients {
			st := r.UserStatus[p]
			st.Notis++
			st.UnRead = true
			if st.FirstUnReadMessage == nil {
				id := msgID
				st.FirstUnReadMessage = &id
			}
			if st.FirstNotiMessage == nil {
				id := msgID
				st.FirstNotiMessage = &id
			}
			r.UserStatus[p] = st
		}
		r.DMInitiated = true
		r.LastMessageAt = &at
		r.UpdatedAt = at
		return true, nil
	})
	return r, err
}

func (s *Store) MarkRead(_ context.Context, roomID bson.ObjectID, participant string) (*data.Room, error) {
	r, _, err := s.updateRoom(roomID, func(r *data.Room) (bool, error) {
		if !r.HasParticipant(participant) {
			return false, notFound("room")
		}
		st := r.UserStatus[participant]
		st.Notis = 0
		st.UnRead = false
		st.FirstUnReadMessage = nil
		st.FirstNotiMessage = nil
		r.UserStatus[participant] = st
		return true, nil
	})
	return r, err
}

func (s *Store) ReplaceParticipant(_ context.Context, roomID bson.ObjectID, placeholder string, bound data.RoomContact) (bool, error) {
	_, changed, err := s.updateRoom(roomID, func(r *data.Room) (bool, error) {
		if !r.HasParticipant(placeholder) {
			return false, nil
		}
		users, dmKey, contacts := r.ReplacedParticipants(placeholder, bound)
		r.UserStatus[bound.Username] = r.UserStatus[placeholder]
		delete(r.UserStatus, placeholder)
		r.Users, r.Contacts = users, contacts
		if dmKey != "" {
			r.DMKey = dmKey
		}
		r.UpdatedAt = time.Now().UTC()
		return true, nil
	})
	return changed, err
}

func (s *Store) SetRoomDeleted(_ context.Context, roomID bson.ObjectID) error {
	_, _, err := s.updateRoom(roomID, func(r *data.Room) (bool, error) {
		r.Deleted = true
		r.UpdatedAt = time.Now().UTC()
		return true, nil
	})
	return err
}
