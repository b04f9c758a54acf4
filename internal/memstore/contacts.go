package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"
)

func contactRecord(c *data.Contact) (*record, error) {
	rec, err := newRecord(c.ID, c)
	if err != nil {
		return nil, err
	}
	rec.Org = c.OrgID.Hex()
	rec.Parent = c.AgentID.Hex()
	rec.Key = c.InviteCode
	if c.Username != "" {
		rec.Members = []string{c.Username}
	}
	return rec, nil
}

func liveContact(c *data.Contact) bool { return !c.Deleted }

func (s *Store) CreateContact(_ context.Context, c *data.Contact) (*data.Contact, error) {
	c.ID = bson.NewObjectID()
	c.Email = normalize.Email(c.Email)
	c.CreatedAt = time.Now().UTC()
	err := s.write(func(txn *memdb.Txn) error {
		if c.InviteCode != "" {
			if raw, _ := txn.First(tableContacts, indexKey, c.InviteCode); raw != nil {
				return conflict("contact")
			}
		}
		rec, err := contactRecord(c)
		if err != nil {
			return err
		}
		return txn.Insert(tableContacts, rec)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) GetContact(_ context.Context, id bson.ObjectID) (*data.Contact, error) {
	c, err := byID[data.Contact](s.read(), tableContacts, "contact", id)
	if err == nil && c.Deleted {
		return nil, notFound("contact")
	}
	return c, err
}

func (s *Store) GetContactByInviteCode(_ context.Context, code string) (*data.Contact, error) {
	c, err := first[data.Contact](s.read(), tableContacts, "invite", indexKey, code)
	if err == nil && c.Deleted {
		return nil, notFound("invite")
	}
	return c, err
}

func (s *Store) ListContactsByAgent(_ context.Context, agentID bson.ObjectID) ([]*data.Contact, error) {
	out, err := all(s.read(), tableContacts, indexParent, liveContact, agentID.Hex())
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *data.Contact) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) ListContactsByUser(_ context.Context, orgID bson.ObjectID, username string) ([]*data.Contact, error) {
	return all(s.read(), tableContacts, indexMembers, func(c *data.Contact) bool {
		return !c.Deleted && (orgID.IsZero() || c.OrgID == orgID)
	}, normalize.Username(username))
}

func (s *Store) BindContact(_ context.Context, id bson.ObjectID, username string) (*data.Contact, error) {
	username = normalize.Username(username)
	var bound *data.Contact
	err := s.write(func(txn *memdb.Txn) error {
		c, err := byID[data.Contact](txn, tableContacts, "contact", id)
		if err != nil {
			return err
		}
		if c.Deleted {
			return notFound("contact")
		}
		if c.InviteUsed || c.Username != "" {
			return fmt.Errorf("invite already used: %w", apperr.ErrConflict)
		}
		siblings, err := all(txn, tableContacts, indexParent, liveContact, c.AgentID.Hex())
		if err != nil {
			return err
		}
		for _, other := range siblings {
			if other.Username == username {
				return conflict("contact")
			}
		}
		c.Username = username
		c.InviteUsed = true
		rec, err := contactRecord(c)
		if err != nil {
			return err
		}
		bound = c
		return txn.Insert(tableContacts, rec)
	})
	if err != nil {
		return nil, err
	}
	return bound, nil
}

func (s *Store) DeleteContact(_ context.Context, id bson.ObjectID) error {
	return s.write(func(txn *memdb.Txn) error {
		c, err := byID[data.Contact](txn, tableContacts, "contact", id)
		if err != nil {
			return err
		}
		if c.Deleted {
			return notFound("contact")
		}
		c.Deleted = true
		rec, err := contactRecord(c)
		if err != nil {
			return err
		}
		return txn.Insert(tableContacts, rec)
	})
}
