package access

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/memstore"
)

type fixture struct {
	store    *memstore.Store
	resolver *Resolver
	org      *data.Org
	alice    AgentCaller // owns carl's contact
	bob      AgentCaller
	carl     ContactCaller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore.New: %v", err)
	}
	for _, name := range []string{"alice", "bob", "carl", "eve"} {
		if _, err := store.CreateUser(ctx, &data.User{Username: name}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	org, _ := store.CreateOrg(ctx, &data.Org{Name: "Acme Realty", Owner: "alice"})
	_, _ = store.CreateAgentProfile(ctx, &data.AgentProfile{OrgID: org.ID, Username: "alice", Role: data.RoleOwner})
	_, _ = store.CreateAgentProfile(ctx, &data.AgentProfile{OrgID: org.ID, Username: "bob", Role: data.RoleAgent})

	r := NewResolver(store)
	f := &fixture{store: store, resolver: r, org: org}

	a, err := r.ResolveCaller(ctx, "alice", org.ID)
	if err != nil {
		t.Fatalf("ResolveCaller alice: %v", err)
	}
	f.alice = a.(AgentCaller)
	b, _ := r.ResolveCaller(ctx, "bob", org.ID)
	f.bob = b.(AgentCaller)

	contact, _ := store.CreateContact(ctx, &data.Contact{OrgID: org.ID, AgentID: f.alice.Profile.ID, Name: "Carl", InviteCode: "carl-code"})
	if _, err := store.BindContact(ctx, contact.ID, "carl"); err != nil {
		t.Fatalf("BindContact: %v", err)
	}
	c, err := r.ResolveCaller(ctx, "carl", org.ID)
	if err != nil {
		t.Fatalf("ResolveCaller carl: %v", err)
	}
	f.carl = c.(ContactCaller)
	return f
}

func (f *fixture) node(t *testing.T, kind data.NodeKind, conns ...data.Connection) *data.Node {
	t.Helper()
	n, err := f.store.InsertNode(context.Background(), &data.Node{Kind: kind, OrgID: f.org.ID, Name: "n", Connections: conns})
	if err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	return n
}

func conn(p data.Principal, perm data.Permission) data.Connection {
	return data.Connection{Principal: p, Permission: perm, ParentPaths: []bson.ObjectID{}}
}

func TestResolveCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.resolver.ResolveCaller(ctx, "eve", f.org.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("outsider: want ErrNotFound, got %v", err)
	}
	if _, err := f.resolver.ResolveCaller(ctx, "alice", bson.NewObjectID()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown org: want ErrNotFound, got %v", err)
	}
	if len(f.carl.Contacts) != 1 {
		t.Fatalf("carl contacts: %+v", f.carl.Contacts)
	}
	if _, err := f.resolver.Agent(ctx, "bob", f.org.ID, data.RoleAdmin); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("agent below admin: want ErrNotFound, got %v", err)
	}
	if _, err := f.resolver.Agent(ctx, "alice", f.org.ID, data.RoleAdmin); err != nil {
		t.Fatalf("owner as admin: %v", err)
	}
}

func TestRoomMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, _ := f.store.InsertRoom(ctx, &data.Room{OrgID: f.org.ID, Type: data.RoomChannel, Name: "general", Users: []string{"alice", "carl"}})

	if _, err := f.resolver.Room(ctx, f.org.ID, room.ID, "carl"); err != nil {
		t.Fatalf("participant: %v", err)
	}
	if _, err := f.resolver.Room(ctx, f.org.ID, room.ID, "bob"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("non-participant: want ErrNotFound, got %v", err)
	}
	if _, err := f.resolver.Room(ctx, bson.NewObjectID(), room.ID, "alice"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("wrong org: want ErrNotFound, got %v", err)
	}
}

func TestNodeResolutionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carlContact := f.carl.Contacts[0].ID

	// alice's own viewer connection wins over the org-wide editor one
	n := f.node(t, data.KindFolder,
		conn(data.SharedPrincipal(), data.Editor),
		conn(data.AgentPrincipal(f.alice.Profile.ID), data.Viewer),
	)
	if _, err := f.resolver.Node(ctx, f.alice, data.KindFolder, n.ID, data.Editor); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("alice editor: want ErrNotFound, got %v", err)
	}
	g, err := f.resolver.Node(ctx, f.bob, data.KindFolder, n.ID, data.Editor)
	if err != nil || g.Connection.Kind != data.PrincipalShared {
		t.Fatalf("bob via shared: %+v, %v", g, err)
	}
	if _, err := f.resolver.Node(ctx, f.carl, data.KindFolder, n.ID, data.Viewer); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("contact must not see shared: %v", err)
	}

	private := f.node(t, data.KindFile, conn(data.AgentOnlyPrincipal(carlContact), data.Editor))
	if _, err := f.resolver.Node(ctx, f.alice, data.KindFile, private.ID, data.Editor); err != nil {
		t.Fatalf("owning agent via forAgentOnly: %v", err)
	}
	if _, err := f.resolver.Node(ctx, f.carl, data.KindFile, private.ID, data.Viewer); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("contact must not see forAgentOnly: %v", err)
	}
	if _, err := f.resolver.Node(ctx, f.bob, data.KindFile, private.ID, data.Viewer); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("other agent must not see another agent's contact file: %v", err)
	}

	forCarl := f.node(t, data.KindFile, conn(data.ContactPrincipal(carlContact), data.Viewer))
	if _, err := f.resolver.Node(ctx, f.carl, data.KindFile, forCarl.ID, data.Viewer); err != nil {
		t.Fatalf("contact via contact connection: %v", err)
	}
	if _, err := f.resolver.Node(ctx, f.carl, data.KindFile, forCarl.ID, data.Editor); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("viewer must not edit: %v", err)
	}
}

func TestPublicLinkSeesOnlyItsFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file := f.node(t, data.KindFile, conn(data.AgentPrincipal(f.alice.Profile.ID), data.Editor))
	other := f.node(t, data.KindFile, conn(data.SharedPrincipal(), data.Editor))
	link := PublicLinkCaller{Share: &data.FileShare{OrgID: f.org.ID, FileID: file.ID}}

	g, err := f.resolver.Node(ctx, link, data.KindFile, file.ID, data.Viewer)
	if err != nil || g.Connection.Permission != data.Viewer {
		t.Fatalf("shared file: %+v, %v", g, err)
	}
	if _, err := f.resolver.Node(ctx, link, data.KindFile, file.ID, data.Editor); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("link must be read-only: %v", err)
	}
	if _, err := f.resolver.Node(ctx, link, data.KindFile, other.ID, data.Viewer); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("link must not reach other files: %v", err)
	}
}

func TestTreePrincipal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carlContact := f.carl.Contacts[0].ID

	tests := []struct {
		name    string
		caller  Caller
		tree    Tree
		want    data.Principal
		wantErr bool
	}{
		{"agent own", f.alice, Tree{Kind: TreeOwn}, data.AgentPrincipal(f.alice.Profile.ID), false},
		{"agent shared", f.bob, Tree{Kind: TreeShared}, data.SharedPrincipal(), false},
		{"agent contact", f.alice, Tree{Kind: TreeContact, ContactID: carlContact}, data.ContactPrincipal(carlContact), false},
		{"agent only", f.alice, Tree{Kind: TreeForAgentOnly, ContactID: carlContact}, data.AgentOnlyPrincipal(carlContact), false},
		{"other agent's contact", f.bob, Tree{Kind: TreeContact, ContactID: carlContact}, data.Principal{}, true},
		{"contact own", f.carl, Tree{}, data.ContactPrincipal(carlContact), false},
		{"contact shared", f.carl, Tree{Kind: TreeShared}, data.Principal{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.resolver.TreePrincipal(ctx, tt.caller, tt.tree)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrNotFound) {
					t.Fatalf("want ErrNotFound, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}
