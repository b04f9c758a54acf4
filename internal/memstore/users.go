package memstore

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"
)

func userRecord(u *data.User) (*record, error) {
	rec, err := newRecord(u.ID, u)
	if err != nil {
		return nil, err
	}
	rec.Key = u.Username
	rec.Parent = u.SocketID
	for _, e := range u.Emails {
		rec.Members = append(rec.Members, e.Address)
	}
	return rec, nil
}

func (s *Store) CreateUser(_ context.Context, u *data.User) (*data.User, error) {
	now := time.Now().UTC()
	u.ID = bson.NewObjectID()
	u.Username = normalize.Username(u.Username)
	for i := range u.Emails {
		u.Emails[i].Address = normalize.Email(u.Emails[i].Address)
	}
	u.CreatedAt, u.UpdatedAt = now, now

	err := s.write(func(txn *memdb.Txn) error {
		if raw, _ := txn.First(tableUsers, indexKey, u.Username); raw != nil {
			return conflict("user")
		}
		for _, e := range u.Emails {
			if raw, _ := txn.First(tableUsers, indexMembers, e.Address); raw != nil {
				return conflict("user")
			}
		}
		rec, err := userRecord(u)
		if err != nil {
			return err
		}
		return txn.Insert(tableUsers, rec)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func liveUser(u *data.User) bool { return !u.Deleted }

func (s *Store) GetUserByID(_ context.Context, id bson.ObjectID) (*data.User, error) {
	u, err := byID[data.User](s.read(), tableUsers, "user", id)
	if err == nil && u.Deleted {
		return nil, notFound("user")
	}
	return u, err
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*data.User, error) {
	u, err := first[data.User](s.read(), tableUsers, "user", indexKey, normalize.Username(username))
	if err == nil && u.Deleted {
		return nil, notFound("user")
	}
	return u, err
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*data.User, error) {
	u, err := first[data.User](s.read(), tableUsers, "user", indexMembers, normalize.Email(email))
	if err == nil && u.Deleted {
		return nil, notFound("user")
	}
	return u, err
}

func (s *Store) GetUsersByUsernames(_ context.Context, usernames []string) ([]*data.User, error) {
	txn := s.read()
	out := []*data.User{}
	for _, name := range usernames {
		found, err := all(txn, tableUsers, indexKey, liveUser, name)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// updateUser applies fn to the user inside a write transaction. fn reports
// whether it changed anything.
func (s *Store) updateUser(username string, fn func(u *data.User) bool) (bool, error) {
	changed := false
	err := s.write(func(txn *memdb.Txn) error {
		u, err := first[data.User](txn, tableUsers, "user", indexKey, username)
		if err != nil {
			return err
		}
		if !fn(u) {
			return nil
		}
		u.UpdatedAt = time.Now().UTC()
		rec, err := userRecord(u)
		if err != nil {
			return err
		}
		changed = true
		return txn.Insert(tableUsers, rec)
	})
	return changed, err
}

func (s *Store) SetUserSocket(_ context.Context, username, socketID string) error {
	_, err := s.updateUser(username, func(u *data.User) bool {
		u.SocketID = socketID
		return true
	})
	return err
}

func (s *Store) ClearUserSocket(_ context.Context, username, socketID string) (bool, error) {
	changed, err := s.updateUser(username, func(u *data.User) bool {
		if u.SocketID != socketID {
			return false
		}
		u.SocketID = ""
		return true
	})
	if errors.Is(err, apperr.ErrNotFound) {
		// a vanished user has nothing left to clear
		return false, nil
	}
	return changed, err
}

func (s *Store) ListUsersOnNode(_ context.Context, node string) ([]*data.User, error) {
	return all[data.User](s.read(), tableUsers, indexParent+"_prefix", nil, node+".")
}
