package data

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PrincipalKind tags which class of principal a connection grants access to.
type PrincipalKind string

const (
	PrincipalAgent        PrincipalKind = "agent"
	PrincipalContact      PrincipalKind = "contact"
	PrincipalForAgentOnly PrincipalKind = "forAgentOnly"
	PrincipalShared       PrincipalKind = "shared"
)

// Principal identifies who a connection is for. Construct it with one of
// AgentPrincipal, ContactPrincipal, AgentOnlyPrincipal or SharedPrincipal so
// the (kind, id) pair is always consistent.
type Principal struct {
	Kind PrincipalKind `bson:"kind" json:"kind"`
	ID   bson.ObjectID `bson:"principalId" json:"principalId"`
}

// AgentPrincipal is the principal of an agent profile.
func AgentPrincipal(agentID bson.ObjectID) Principal {
	return Principal{Kind: PrincipalAgent, ID: agentID}
}

// ContactPrincipal is the principal of a contact.
func ContactPrincipal(contactID bson.ObjectID) Principal {
	return Principal{Kind: PrincipalContact, ID: contactID}
}

// AgentOnlyPrincipal is a contact-scoped principal visible only to the agent
// owning the contact.
func AgentOnlyPrincipal(contactID bson.ObjectID) Principal {
	return Principal{Kind: PrincipalForAgentOnly, ID: contactID}
}

// SharedPrincipal is the org-wide principal. It has no id.
func SharedPrincipal() Principal {
	return Principal{Kind: PrincipalShared}
}

// Validate checks the kind/id pairing.
func (p Principal) Validate() error {
	switch p.Kind {
	case PrincipalAgent, PrincipalContact, PrincipalForAgentOnly:
		if p.ID.IsZero() {
			return fmt.Errorf("%s principal requires an id", p.Kind)
		}
		return nil
	case PrincipalShared:
		if !p.ID.IsZero() {
			return fmt.Errorf("shared principal carries no id")
		}
		return nil
	default:
		return fmt.Errorf("unknown principal kind %q", p.Kind)
	}
}

func (p Principal) String() string {
	if p.Kind == PrincipalShared {
		return string(p.Kind)
	}
	return string(p.Kind) + ":" + p.ID.Hex()
}

// Permission is the level granted by a connection.
type Permission string

const (
	Viewer Permission = "viewer"
	Editor Permission = "editor"
)

// Allows reports whether p satisfies want.
func (p Permission) Allows(want Permission) bool {
	switch want {
	case Viewer:
		return p == Viewer || p == Editor
	case Editor:
		return p == Editor
	}
	return false
}

// Connection places a node in one principal's tree with a permission level.
// ParentPaths is the full ancestor chain under that principal, root first.
type Connection struct {
	Principal   `bson:",inline"`
	Permission  Permission      `bson:"permission" json:"permission"`
	ParentID    *bson.ObjectID  `bson:"parentId" json:"parentId"`
	ParentPaths []bson.ObjectID `bson:"parentPaths" json:"parentPaths"`
}

// ChildPlacement returns the parent fields of a node placed directly inside
// the node that owns c.
func (c Connection) ChildPlacement(self bson.ObjectID) (*bson.ObjectID, []bson.ObjectID) {
	paths := make([]bson.ObjectID, 0, len(c.ParentPaths)+1)
	paths = append(paths, c.ParentPaths...)
	paths = append(paths, self)
	parent := self
	return &parent, paths
}

// HasAncestor reports whether id is in the connection's ancestor chain.
func (c Connection) HasAncestor(id bson.ObjectID) bool {
	for _, p := range c.ParentPaths {
		if p == id {
			return true
		}
	}
	return false
}

// Rebase replaces the chain prefix up to and including moved with
// newPrefix ++ [moved], keeping the suffix after moved. It reports false when
// moved is not an ancestor.
func (c Connection) Rebase(moved bson.ObjectID, newPrefix []bson.ObjectID) (Connection, bool) {
	idx := -1
	for i, p := range c.ParentPaths {
		if p == moved {
			idx = i
			break
		}
	}
	if idx < 0 {
		return c, false
	}
	paths := make([]bson.ObjectID, 0, len(newPrefix)+len(c.ParentPaths)-idx)
	paths = append(paths, newPrefix...)
	paths = append(paths, c.ParentPaths[idx:]...)
	out := c
	out.ParentPaths = paths
	return out, true
}

// Detach re-roots the chain at top: nodes under top keep their relative
// position, top itself becomes a root. Used when a subtree is granted to a
// new principal.
func (c Connection) Detach(top bson.ObjectID) (*bson.ObjectID, []bson.ObjectID) {
	for i, p := range c.ParentPaths {
		if p == top {
			paths := append([]bson.ObjectID(nil), c.ParentPaths[i:]...)
			parent := paths[len(paths)-1]
			return &parent, paths
		}
	}
	return nil, []bson.ObjectID{}
}
