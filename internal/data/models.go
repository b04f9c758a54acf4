package data

import (
	"time"

	"github.com/PaulBabatuyi/realtyhub/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// EmailAddress is one of a user's addresses.
type EmailAddress struct {
	Address  string `bson:"address" json:"address"`
	Primary  bool   `bson:"primary" json:"primary"`
	Verified bool   `bson:"verified" json:"verified"`
}

// User maps to the users collection. SocketID is the user's current live
// connection id, empty when offline.
type User struct {
	ID        bson.ObjectID  `bson:"_id,omitempty" json:"id"`
	Username  string         `bson:"username" json:"username"`
	Emails    []EmailAddress `bson:"emails" json:"emails"`
	Phones    []string       `bson:"phones,omitempty" json:"phones,omitempty"`
	Password  string         `bson:"password" json:"-"`
	Verified  bool           `bson:"verified" json:"verified"`
	Image     string         `bson:"image,omitempty" json:"image,omitempty"`
	SocketID  string         `bson:"socketId,omitempty" json:"-"`
	Deleted   bool           `bson:"deleted" json:"-"`
	CreatedAt time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// PrimaryEmail returns the address marked primary, or the first one.
func (u *User) PrimaryEmail() string {
	for _, e := range u.Emails {
		if e.Primary {
			return e.Address
		}
	}
	if len(u.Emails) > 0 {
		return u.Emails[0].Address
	}
	return ""
}

// Org is the tenant boundary.
type Org struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string        `bson:"name" json:"name"`
	Owner     string        `bson:"owner" json:"owner"`
	Deleted   bool          `bson:"deleted" json:"-"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
}

// Role orders agent privileges; a lower value is more privileged.
type Role int

const (
	RoleOwner Role = iota + 1
	RoleAdmin
	RoleAgent
)

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool { return r >= RoleOwner && r <= min }

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// ParseRole parses "owner", "admin" or "agent".
func ParseRole(s string) (Role, bool) {
	switch s {
	case "owner":
		return RoleOwner, true
	case "admin":
		return RoleAdmin, true
	case "agent":
		return RoleAgent, true
	}
	return 0, false
}

// AgentProfile binds a user to an org. Unique per (orgId, username).
type AgentProfile struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	OrgID     bson.ObjectID `bson:"orgId" json:"orgId"`
	Username  string        `bson:"username" json:"username"`
	Role      Role          `bson:"role" json:"role"`
	Deleted   bool          `bson:"deleted" json:"-"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
}

// Contact is a client relationship owned by one agent profile. Username is
// empty until the contact is bound to a user through its invite code.
type Contact struct {
	ID            bson.ObjectID `bson:"_id,omitempty" json:"id"`
	OrgID         bson.ObjectID `bson:"orgId" json:"orgId"`
	AgentID       bson.ObjectID `bson:"agentId" json:"agentId"`
	AgentUsername string        `bson:"agentUsername" json:"agentUsername"`
	Name          string        `bson:"name" json:"name"`
	Email         string        `bson:"email,omitempty" json:"email,omitempty"`
	Phone         string        `bson:"phone,omitempty" json:"phone,omitempty"`
	Username      string        `bson:"username,omitempty" json:"username,omitempty"`
	InviteCode    string        `bson:"inviteCode,omitempty" json:"-"`
	InviteUsed    bool          `bson:"inviteUsed" json:"inviteUsed"`
	Deleted       bool          `bson:"deleted" json:"-"`
	CreatedAt     time.Time     `bson:"createdAt" json:"createdAt"`
}

// Placeholder is the participant id that stands in for the contact in rooms
// until it is bound to a username.
func (c *Contact) Placeholder() string { return c.ID.Hex() }

// ParticipantID is the canonical room participant id of the contact.
func (c *Contact) ParticipantID() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Placeholder()
}

// RoomType distinguishes channels from direct-message rooms.
type RoomType string

const (
	RoomChannel RoomType = "channel"
	RoomDM      RoomType = "dm"
)

// ParticipantStatus is the per-participant presence and notification state
// stored inside a room.
type ParticipantStatus struct {
	Online             bool           `bson:"online" json:"online"`
	Notis              int            `bson:"notis" json:"notis"`
	UnRead             bool           `bson:"unRead" json:"unRead"`
	FirstUnReadMessage *bson.ObjectID `bson:"firstUnReadmessage,omitempty" json:"firstUnReadmessage,omitempty"`
	FirstNotiMessage   *bson.ObjectID `bson:"firstNotiMessage,omitempty" json:"firstNotiMessage,omitempty"`
	SocketID           string         `bson:"socketId,omitempty" json:"-"`
}

// RoomContact is the copy of a contact embedded in a room.
type RoomContact struct {
	ContactID bson.ObjectID `bson:"contactId" json:"contactId"`
	Name      string        `bson:"name" json:"name"`
	Username  string        `bson:"username,omitempty" json:"username,omitempty"`
	Image     string        `bson:"image,omitempty" json:"image,omitempty"`
}

// Room maps to the rooms collection. Users holds participant ids: usernames,
// or contact placeholder ids for contacts that are not bound yet.
type Room struct {
	ID            bson.ObjectID                `bson:"_id,omitempty" json:"id"`
	OrgID         bson.ObjectID                `bson:"orgId" json:"orgId"`
	Type          RoomType                     `bson:"type" json:"type"`
	Name          string                       `bson:"name,omitempty" json:"name,omitempty"`
	DMKey         string                       `bson:"dmKey,omitempty" json:"-"`
	Users         []string                     `bson:"users" json:"users"`
	Contacts      []RoomContact                `bson:"contacts,omitempty" json:"contacts,omitempty"`
	UserStatus    map[string]ParticipantStatus `bson:"userStatus" json:"userStatus"`
	DMInitiated   bool                         `bson:"dmInitiated" json:"dmInitiated"`
	Deleted       bool                         `bson:"deleted" json:"deleted"`
	CreatedBy     string                       `bson:"createdBy" json:"createdBy"`
	CreatedAt     time.Time                    `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time                    `bson:"updatedAt" json:"updatedAt"`
	LastMessageAt *time.Time                   `bson:"lastMessageAt,omitempty" json:"lastMessageAt,omitempty"`
}

// HasParticipant reports whether id is one of the room's participants.
func (r *Room) HasParticipant(id string) bool {
	for _, u := range r.Users {
		if u == id {
			return true
		}
	}
	return false
}

// ReplacedParticipants returns the room's participants, dm key and embedded
// contacts with placeholder swapped for bound.Username.
func (r *Room) ReplacedParticipants(placeholder string, bound RoomContact) ([]string, string, []RoomContact) {
	users := make([]string, 0, len(r.Users))
	for _, u := range r.Users {
		if u == placeholder {
			u = bound.Username
		}
		users = append(users, u)
	}
	users = normalize.Participants(users)

	contacts := make([]RoomContact, 0, len(r.Contacts))
	for _, c := range r.Contacts {
		if c.ContactID == bound.ContactID {
			c = bound
		}
		contacts = append(contacts, c)
	}

	var dmKey string
	if r.Type == RoomDM {
		dmKey = normalize.DMKey(users)
	}
	return users, dmKey, contacts
}

// Attachment references an object in storage.
type Attachment struct {
	Key         string `bson:"key" json:"key"`
	Name        string `bson:"name" json:"name"`
	ContentType string `bson:"contentType,omitempty" json:"contentType,omitempty"`
	Size        int64  `bson:"size,omitempty" json:"size,omitempty"`
}

// MessageLink is deep-link metadata for a contextual action, e.g. opening a
// shared folder.
type MessageLink struct {
	Kind NodeKind      `bson:"kind" json:"kind"`
	ID   bson.ObjectID `bson:"id" json:"id"`
	Name string        `bson:"name,omitempty" json:"name,omitempty"`
}

// Message maps to the messages collection.
type Message struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	OrgID       bson.ObjectID `bson:"orgId" json:"orgId"`
	RoomID      bson.ObjectID `bson:"roomId" json:"roomId"`
	Sender      string        `bson:"sender" json:"sender"`
	Text        string        `bson:"text" json:"text"`
	Attachments []Attachment  `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Link        *MessageLink  `bson:"link,omitempty" json:"link,omitempty"`
	CreatedAt   time.Time     `bson:"createdAt" json:"createdAt"`
	EditedAt    *time.Time    `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
}

// NodeKind distinguishes folders from files; both live in trees built from
// their connections.
type NodeKind string

const (
	KindFolder NodeKind = "folder"
	KindFile   NodeKind = "file"
)

// Node is a folder or a file. File-only fields are empty for folders.
type Node struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind        NodeKind      `bson:"kind" json:"kind"`
	OrgID       bson.ObjectID `bson:"orgId" json:"orgId"`
	Name        string        `bson:"name" json:"name"`
	CreatedBy   string        `bson:"createdBy" json:"createdBy"`
	Connections []Connection  `bson:"connections" json:"connections"`
	Key         string        `bson:"key,omitempty" json:"-"`
	ContentType string        `bson:"contentType,omitempty" json:"contentType,omitempty"`
	Size        int64         `bson:"size,omitempty" json:"size,omitempty"`
	CreatedAt   time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// Connection returns the node's connection for p.
func (n *Node) Connection(p Principal) (Connection, bool) {
	for _, c := range n.Connections {
		if c.Principal == p {
			return c, true
		}
	}
	return Connection{}, false
}

// FileShare is an external, codeword-guarded link to one file.
type FileShare struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	OrgID     bson.ObjectID `bson:"orgId" json:"orgId"`
	AgentID   bson.ObjectID `bson:"agentId" json:"agentId"`
	FileID    bson.ObjectID `bson:"fileId" json:"fileId"`
	Token     string        `bson:"token" json:"token"`
	Codeword  string        `bson:"codeword" json:"-"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
}
