// Package data provides DB models and stores.
package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// UserStore persists users and their live-connection id.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUsersByUsernames(ctx context.Context, usernames []string) ([]*User, error)
	SetUserSocket(ctx context.Context, username, socketID string) error
	// ClearUserSocket clears the socket id only while it still equals
	// socketID, and reports whether it did.
	ClearUserSocket(ctx context.Context, username, socketID string) (bool, error)
	ListUsersOnNode(ctx context.Context, node string) ([]*User, error)
}

// OrgStore persists orgs and agent profiles.
type OrgStore interface {
	CreateOrg(ctx context.Context, o *Org) (*Org, error)
	GetOrg(ctx context.Context, id bson.ObjectID) (*Org, error)
	CreateAgentProfile(ctx context.Context, a *AgentProfile) (*AgentProfile, error)
	GetAgentProfile(ctx context.Context, orgID bson.ObjectID, username string) (*AgentProfile, error)
	GetAgentProfileByID(ctx context.Context, id bson.ObjectID) (*AgentProfile, error)
	ListAgentProfiles(ctx context.Context, orgID bson.ObjectID) ([]*AgentProfile, error)
}

// ContactStore persists contacts.
type ContactStore interface {
	CreateContact(ctx context.Context, c *Contact) (*Contact, error)
	GetContact(ctx context.Context, id bson.ObjectID) (*Contact, error)
	GetContactByInviteCode(ctx context.Context, code string) (*Contact, error)
	ListContactsByAgent(ctx context.Context, agentID bson.ObjectID) ([]*Contact, error)
	ListContactsByUser(ctx context.Context, orgID bson.ObjectID, username string) ([]*Contact, error)
	// BindContact binds an unbound contact whose invite is unused. It returns
	// ErrConflict when the invite was already used or username is already
	// bound to another contact of the same agent.
	BindContact(ctx context.Context, id bson.ObjectID, username string) (*Contact, error)
	DeleteContact(ctx context.Context, id bson.ObjectID) error
}

// RoomStore persists rooms and their per-participant status.
type RoomStore interface {
	// InsertRoom returns ErrConflict for a duplicate dm participant set or
	// channel name within an org.
	InsertRoom(ctx context.Context, r *Room) (*Room, error)
	GetRoom(ctx context.Context, id bson.ObjectID) (*Room, error)
	FindDMRoom(ctx context.Context, orgID bson.ObjectID, dmKey string) (*Room, error)
	// ListRoomsForParticipant includes deleted rooms; a zero orgID matches
	// every org.
	ListRoomsForParticipant(ctx context.Context, orgID bson.ObjectID, participant string) ([]*Room, error)
	// SetPresence updates the participant's status in every room containing
	// it and returns the number of rooms touched.
	SetPresence(ctx context.Context, participant string, online bool, socketID string) (int64, error)
	// RecordDelivery increments each recipient's notification count, marks it
	// unread, sets the first-unread and first-notification pointers only when
	// unset, and flags the room initiated. It returns the updated room.
	RecordDelivery(ctx context.Context, roomID bson.ObjectID, recipients []string, msgID bson.ObjectID, at time.Time) (*Room, error)
	MarkRead(ctx context.Context, roomID bson.ObjectID, participant string) (*Room, error)
	// ReplaceParticipant swaps a contact placeholder for the bound username,
	// carrying over its status. It reports false when the room no longer
	// contains the placeholder.
	ReplaceParticipant(ctx context.Context, roomID bson.ObjectID, placeholder string, bound RoomContact) (bool, error)
	SetRoomDeleted(ctx context.Context, roomID bson.ObjectID) error
}

// MessageStore persists messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *Message) (*Message, error)
	GetMessage(ctx context.Context, id bson.ObjectID) (*Message, error)
	// ListMessages returns up to limit messages older than before (when set),
	// oldest first.
	ListMessages(ctx context.Context, roomID bson.ObjectID, before *time.Time, limit int64) ([]*Message, error)
	UpdateMessageText(ctx context.Context, id bson.ObjectID, text string, at time.Time) (*Message, error)
}

// NodeStore persists folders and files.
type NodeStore interface {
	InsertNode(ctx context.Context, n *Node) (*Node, error)
	GetNode(ctx context.Context, kind NodeKind, id bson.ObjectID) (*Node, error)
	// ListChildren returns nodes whose connection for p has parentID as its
	// parent; a nil parentID lists p's roots.
	ListChildren(ctx context.Context, kind NodeKind, orgID bson.ObjectID, p Principal, parentID *bson.ObjectID) ([]*Node, error)
	// ListDescendants returns nodes whose connection for p has ancestor in
	// its parent chain.
	ListDescendants(ctx context.Context, kind NodeKind, orgID bson.ObjectID, p Principal, ancestor bson.ObjectID) ([]*Node, error)
	// PutConnection replaces the node's connection for c's principal, or
	// appends it when the node has none.
	PutConnection(ctx context.Context, kind NodeKind, id bson.ObjectID, c Connection) error
	RenameNode(ctx context.Context, kind NodeKind, id bson.ObjectID, name string, at time.Time) error
	DeleteNode(ctx context.Context, kind NodeKind, id bson.ObjectID) error
}

// ShareStore persists file shares.
type ShareStore interface {
	CreateFileShare(ctx context.Context, s *FileShare) (*FileShare, error)
	GetFileShareByToken(ctx context.Context, token string) (*FileShare, error)
}

// Store is the persistence contract shared by the Mongo and in-memory
// backends.
type Store interface {
	UserStore
	OrgStore
	ContactStore
	RoomStore
	MessageStore
	NodeStore
	ShareStore
}
