// Package access decides what a caller may see and change inside an org.
//
// Every check that fails reports apperr.ErrNotFound, whether the resource is
// missing or merely hidden, so callers never learn about resources they
// cannot access.
package access

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

// Caller is the identity a request acts as within one org. It is one of
// AgentCaller, ContactCaller or PublicLinkCaller.
type Caller interface {
	isCaller()
}

// AgentCaller is an org member acting through its agent profile.
type AgentCaller struct {
	User    *data.User
	Profile *data.AgentProfile
}

// ContactCaller is a user bound to one or more contacts of the org.
type ContactCaller struct {
	User     *data.User
	OrgID    bson.ObjectID
	Contacts []*data.Contact
}

// PublicLinkCaller is an anonymous holder of a file share link whose
// codeword has been checked.
type PublicLinkCaller struct {
	Share *data.FileShare
}

func (AgentCaller) isCaller()      {}
func (ContactCaller) isCaller()    {}
func (PublicLinkCaller) isCaller() {}

// Participant returns the room participant id of c, or "" for callers that
// never take part in rooms.
func Participant(c Caller) string {
	switch c := c.(type) {
	case AgentCaller:
		return c.User.Username
	case ContactCaller:
		return c.User.Username
	case PublicLinkCaller:
		return ""
	}
	panic(fmt.Sprintf("access: unknown caller %T", c))
}

// Org returns the org c acts in.
func Org(c Caller) bson.ObjectID {
	switch c := c.(type) {
	case AgentCaller:
		return c.Profile.OrgID
	case ContactCaller:
		return c.OrgID
	case PublicLinkCaller:
		return c.Share.OrgID
	}
	panic(fmt.Sprintf("access: unknown caller %T", c))
}

// Grant is the connection that gave a caller access to a node.
type Grant struct {
	Node       *data.Node
	Connection data.Connection
}

// Resolver resolves callers and their grants from the store.
type Resolver struct {
	store data.Store
}

// NewResolver returns a Resolver reading from store.
func NewResolver(store data.Store) *Resolver {
	return &Resolver{store: store}
}

func denied(what string) error {
	return fmt.Errorf("%s %w", what, apperr.ErrNotFound)
}

// ResolveCaller determines how username acts in orgID: as an agent when it
// has a profile there, otherwise as a contact when it is bound to one.
func (r *Resolver) ResolveCaller(ctx context.Context, username string, orgID bson.ObjectID) (Caller, error) {
	if _, err := r.store.GetOrg(ctx, orgID); err != nil {
		return nil, err
	}
	user, err := r.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	profile, err := r.store.GetAgentProfile(ctx, orgID, username)
	switch {
	case err == nil:
		return AgentCaller{User: user, Profile: profile}, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	contacts, err := r.store.ListContactsByUser(ctx, orgID, username)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, denied("org")
	}
	return ContactCaller{User: user, OrgID: orgID, Contacts: contacts}, nil
}

// Agent resolves username as an agent of orgID, with at least role min.
func (r *Resolver) Agent(ctx context.Context, username string, orgID bson.ObjectID, min data.Role) (AgentCaller, error) {
	c, err := r.ResolveCaller(ctx, username, orgID)
	if err != nil {
		return AgentCaller{}, err
	}
	agent, ok := c.(AgentCaller)
	if !ok || !agent.Profile.Role.AtLeast(min) {
		return AgentCaller{}, denied("org")
	}
	return agent, nil
}

// Room returns the room when participant is one of its participants and it
// belongs to orgID. Archived rooms stay readable.
func (r *Resolver) Room(ctx context.Context, orgID, roomID bson.ObjectID, participant string) (*data.Room, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.OrgID != orgID || participant == "" || !room.HasParticipant(participant) {
		return nil, denied("room")
	}
	return room, nil
}

// Contact returns a contact visible to c: its owning agent, an admin of the
// org, or the user bound to it.
func (r *Resolver) Contact(ctx context.Context, c Caller, contactID bson.ObjectID) (*data.Contact, error) {
	contact, err := r.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact.OrgID != Org(c) {
		return nil, denied("contact")
	}
	switch c := c.(type) {
	case AgentCaller:
		if contact.AgentID == c.Profile.ID || c.Profile.Role.AtLeast(data.RoleAdmin) {
			return contact, nil
		}
	case ContactCaller:
		for _, own := range c.Contacts {
			if own.ID == contact.ID {
				return contact, nil
			}
		}
	case PublicLinkCaller:
	}
	return nil, denied("contact")
}

// OwnedContact returns a contact owned by agent itself.
func (r *Resolver) OwnedContact(ctx context.Context, agent AgentCaller, contactID bson.ObjectID) (*data.Contact, error) {
	contact, err := r.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact.AgentID != agent.Profile.ID {
		return nil, denied("contact")
	}
	return contact, nil
}

// Node resolves c's grant on a folder or file and requires it to allow want.
func (r *Resolver) Node(ctx context.Context, c Caller, kind data.NodeKind, id bson.ObjectID, want data.Permission) (*Grant, error) {
	node, err := r.store.GetNode(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return r.Grant(ctx, c, node, want)
}

// Grant resolves c's grant on an already loaded node.
func (r *Resolver) Grant(ctx context.Context, c Caller, node *data.Node, want data.Permission) (*Grant, error) {
	if node.OrgID != Org(c) {
		return nil, denied(string(node.Kind))
	}
	conn, ok, err := r.match(ctx, c, node)
	if err != nil {
		return nil, err
	}
	if !ok || !conn.Permission.Allows(want) {
		return nil, denied(string(node.Kind))
	}
	return &Grant{Node: node, Connection: conn}, nil
}

// match returns the first connection of node granting c access. The checks
// run in a fixed order and the first hit decides the permission level.
func (r *Resolver) match(ctx context.Context, c Caller, node *data.Node) (data.Connection, bool, error) {
	switch c := c.(type) {
	case AgentCaller:
		if conn, ok := node.Connection(data.AgentPrincipal(c.Profile.ID)); ok {
			return conn, true, nil
		}
		owned := map[bson.ObjectID]bool{}
		for _, conn := range node.Connections {
			if conn.Kind != data.PrincipalContact && conn.Kind != data.PrincipalForAgentOnly {
				continue
			}
			mine, seen := owned[conn.ID]
			if !seen {
				contact, err := r.store.GetContact(ctx, conn.ID)
				switch {
				case err == nil:
					mine = contact.AgentID == c.Profile.ID
				case errors.Is(err, apperr.ErrNotFound):
					mine = false
				default:
					return data.Connection{}, false, err
				}
				owned[conn.ID] = mine
			}
			if mine {
				return conn, true, nil
			}
		}
		if conn, ok := node.Connection(data.SharedPrincipal()); ok {
			return conn, true, nil
		}
		return data.Connection{}, false, nil

	case ContactCaller:
		// forAgentOnly and shared connections are never visible to contacts
		for _, contact := range c.Contacts {
			if conn, ok := node.Connection(data.ContactPrincipal(contact.ID)); ok {
				return conn, true, nil
			}
		}
		return data.Connection{}, false, nil

	case PublicLinkCaller:
		if node.Kind == data.KindFile && node.ID == c.Share.FileID {
			return data.Connection{Principal: data.SharedPrincipal(), Permission: data.Viewer}, true, nil
		}
		return data.Connection{}, false, nil
	}
	panic(fmt.Sprintf("access: unknown caller %T", c))
}

// TreeKind selects whose tree a folder view shows.
type TreeKind string

const (
	TreeOwn          TreeKind = "own"
	TreeContact      TreeKind = "contact"
	TreeForAgentOnly TreeKind = "forAgentOnly"
	TreeShared       TreeKind = "shared"
)

// Tree identifies one principal's folder tree.
type Tree struct {
	Kind      TreeKind
	ContactID bson.ObjectID
}

// TreePrincipal returns the principal whose connections place nodes in
// tree, provided c may browse it. Agents browse their own tree, the org
// shared tree and the trees of their contacts; contacts browse their own.
func (r *Resolver) TreePrincipal(ctx context.Context, c Caller, tree Tree) (data.Principal, error) {
	switch c := c.(type) {
	case AgentCaller:
		switch tree.Kind {
		case TreeOwn, "":
			return data.AgentPrincipal(c.Profile.ID), nil
		case TreeShared:
			return data.SharedPrincipal(), nil
		case TreeContact, TreeForAgentOnly:
			contact, err := r.OwnedContact(ctx, c, tree.ContactID)
			if err != nil {
				return data.Principal{}, err
			}
			if tree.Kind == TreeContact {
				return data.ContactPrincipal(contact.ID), nil
			}
			return data.AgentOnlyPrincipal(contact.ID), nil
		}
	case ContactCaller:
		if tree.Kind != TreeOwn && tree.Kind != TreeContact && tree.Kind != "" {
			break
		}
		for _, own := range c.Contacts {
			if tree.ContactID.IsZero() || own.ID == tree.ContactID {
				return data.ContactPrincipal(own.ID), nil
			}
		}
	case PublicLinkCaller:
	}
	return data.Principal{}, denied("folder")
}
