package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestUsersUniqueness(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, &data.User{
		Username: "Alice",
		Emails:   []data.EmailAddress{{Address: "Alice@Example.com", Primary: true}},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, &data.User{Username: "alice"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate username: want ErrConflict, got %v", err)
	}
	_, err = s.CreateUser(ctx, &data.User{
		Username: "other",
		Emails:   []data.EmailAddress{{Address: "alice@example.com"}},
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate email: want ErrConflict, got %v", err)
	}

	u, err := s.GetUserByEmail(ctx, " ALICE@example.com ")
	if err != nil || u.Username != "alice" {
		t.Fatalf("GetUserByEmail: %+v, %v", u, err)
	}
	if _, err := s.GetUserByUsername(ctx, "bob"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSocketsAndNodeListing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob"} {
		if _, err := s.CreateUser(ctx, &data.User{Username: name}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	_ = s.SetUserSocket(ctx, "alice", "node-a.1")
	_ = s.SetUserSocket(ctx, "bob", "node-ab.1")

	onA, err := s.ListUsersOnNode(ctx, "node-a")
	if err != nil {
		t.Fatalf("ListUsersOnNode: %v", err)
	}
	if len(onA) != 1 || onA[0].Username != "alice" {
		t.Fatalf("node-a users: %+v", onA)
	}

	if cleared, _ := s.ClearUserSocket(ctx, "alice", "node-a.0"); cleared {
		t.Fatal("stale socket id must not clear")
	}
	if cleared, _ := s.ClearUserSocket(ctx, "alice", "node-a.1"); !cleared {
		t.Fatal("current socket id should clear")
	}
	u, _ := s.GetUserByUsername(ctx, "alice")
	if u.SocketID != "" {
		t.Fatalf("socket id still set: %q", u.SocketID)
	}
}

func TestBindContactOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	agentID := bson.NewObjectID()
	c1, _ := s.CreateContact(ctx, &data.Contact{AgentID: agentID, Name: "One", InviteCode: "code-1"})
	c2, _ := s.CreateContact(ctx, &data.Contact{AgentID: agentID, Name: "Two", InviteCode: "code-2"})

	bound, err := s.BindContact(ctx, c1.ID, "carol")
	if err != nil {
		t.Fatalf("BindContact: %v", err)
	}
	if !bound.InviteUsed || bound.Username != "carol" {
		t.Fatalf("unexpected bound contact: %+v", bound)
	}
	if _, err := s.BindContact(ctx, c1.ID, "dave"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second bind: want ErrConflict, got %v", err)
	}
	if _, err := s.BindContact(ctx, c2.ID, "carol"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("same user twice for one agent: want ErrConflict, got %v", err)
	}

	mine, err := s.ListContactsByUser(ctx, bson.ObjectID{}, "carol")
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListContactsByUser: %d, %v", len(mine), err)
	}

	if err := s.DeleteContact(ctx, c1.ID); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	if _, err := s.GetContact(ctx, c1.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("deleted contact: want ErrNotFound, got %v", err)
	}
}

func TestRoomUniquenessAndDelivery(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	orgID := bson.NewObjectID()

	dm, err := s.InsertRoom(ctx, &data.Room{OrgID: orgID, Type: data.RoomDM, DMKey: "a|b", Users: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("InsertRoom: %v", err)
	}
	if _, err := s.InsertRoom(ctx, &data.Room{OrgID: orgID, Type: data.RoomDM, DMKey: "a|b", Users: []string{"a", "b"}}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate dm: want ErrConflict, got %v", err)
	}
	// other orgs have their own key space
	if _, err := s.InsertRoom(ctx, &data.Room{OrgID: bson.NewObjectID(), Type: data.RoomDM, DMKey: "a|b", Users: []string{"a", "b"}}); err != nil {
		t.Fatalf("dm in another org: %v", err)
	}

	first, second := bson.NewObjectID(), bson.NewObjectID()
	if _, err := s.RecordDelivery(ctx, dm.ID, []string{"b"}, first, time.Now()); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	r, err := s.RecordDelivery(ctx, dm.ID, []string{"b"}, second, time.Now())
	if err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	st := r.UserStatus["b"]
	if st.Notis != 2 || !st.UnRead || *st.FirstUnReadMessage != first || *st.FirstNotiMessage != first {
		t.Fatalf("status: %+v", st)
	}
	if r.UserStatus["a"].Notis != 0 {
		t.Fatal("sender must not be notified")
	}

	n, err := s.SetPresence(ctx, "b", true, "node.1")
	if err != nil || n != 2 {
		t.Fatalf("SetPresence touched %d rooms, err %v", n, err)
	}

	if err := s.SetRoomDeleted(ctx, dm.ID); err != nil {
		t.Fatalf("SetRoomDeleted: %v", err)
	}
	if _, err := s.FindDMRoom(ctx, orgID, "a|b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("archived dm still found: %v", err)
	}
	// archiving frees the participant set for a new dm
	if _, err := s.InsertRoom(ctx, &data.Room{OrgID: orgID, Type: data.RoomDM, DMKey: "a|b", Users: []string{"a", "b"}}); err != nil {
		t.Fatalf("dm after archive: %v", err)
	}
}

func TestReplaceParticipant(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	contactID := bson.NewObjectID()
	ph := contactID.Hex()
	r, _ := s.InsertRoom(ctx, &data.Room{
		OrgID:    bson.NewObjectID(),
		Type:     data.RoomDM,
		DMKey:    "agent|" + ph,
		Users:    []string{"agent", ph},
		Contacts: []data.RoomContact{{ContactID: contactID, Name: "Client"}},
	})
	_, _ = s.RecordDelivery(ctx, r.ID, []string{ph}, bson.NewObjectID(), time.Now())

	ok, err := s.ReplaceParticipant(ctx, r.ID, ph, data.RoomContact{ContactID: contactID, Name: "Client", Username: "client"})
	if err != nil || !ok {
		t.Fatalf("ReplaceParticipant: %v %v", ok, err)
	}
	ok, err = s.ReplaceParticipant(ctx, r.ID, ph, data.RoomContact{ContactID: contactID, Username: "client"})
	if err != nil || ok {
		t.Fatalf("second replace should be a no-op: %v %v", ok, err)
	}

	got, _ := s.GetRoom(ctx, r.ID)
	if got.DMKey != "agent|client" || got.UserStatus["client"].Notis != 1 {
		t.Fatalf("unexpected room: %+v", got)
	}
	if _, stale := got.UserStatus[ph]; stale {
		t.Fatal("placeholder status left behind")
	}
	if got.Contacts[0].Username != "client" {
		t.Fatalf("embedded contact not updated: %+v", got.Contacts)
	}
}

func TestNodeTrees(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	orgID := bson.NewObjectID()
	agent := data.AgentPrincipal(bson.NewObjectID())

	root, _ := s.InsertNode(ctx, &data.Node{
		Kind: data.KindFolder, OrgID: orgID, Name: "root",
		Connections: []data.Connection{{Principal: agent, Permission: data.Editor, ParentPaths: []bson.ObjectID{}}},
	})
	parent, paths := root.Connections[0].ChildPlacement(root.ID)
	child, _ := s.InsertNode(ctx, &data.Node{
		Kind: data.KindFile, OrgID: orgID, Name: "deed.pdf",
		Connections: []data.Connection{{Principal: agent, Permission: data.Editor, ParentID: parent, ParentPaths: paths}},
	})

	roots, _ := s.ListChildren(ctx, data.KindFolder, orgID, agent, nil)
	if len(roots) != 1 || roots[0].ID != root.ID {
		t.Fatalf("roots: %+v", roots)
	}
	kids, _ := s.ListChildren(ctx, data.KindFile, orgID, agent, &root.ID)
	if len(kids) != 1 || kids[0].ID != child.ID {
		t.Fatalf("children: %+v", kids)
	}
	desc, _ := s.ListDescendants(ctx, data.KindFile, orgID, agent, root.ID)
	if len(desc) != 1 {
		t.Fatalf("descendants: %+v", desc)
	}

	if err := s.PutConnection(ctx, data.KindFile, child.ID, data.Connection{Principal: data.SharedPrincipal(), Permission: data.Viewer}); err != nil {
		t.Fatalf("PutConnection: %v", err)
	}
	got, _ := s.GetNode(ctx, data.KindFile, child.ID)
	if len(got.Connections) != 2 {
		t.Fatalf("connections: %+v", got.Connections)
	}
	if err := s.PutConnection(ctx, data.KindFile, child.ID, data.Connection{Principal: data.Principal{Kind: data.PrincipalShared, ID: bson.NewObjectID()}}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("invalid principal: want ErrInvalidInput, got %v", err)
	}

	if err := s.DeleteNode(ctx, data.KindFile, child.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := s.DeleteNode(ctx, data.KindFile, child.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}
