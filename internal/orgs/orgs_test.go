package orgs

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/memstore"
)

func TestOrgMembership(t *testing.T) {
	ctx := context.Background()
	store, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore.New: %v", err)
	}
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		if _, err := store.CreateUser(ctx, &data.User{Username: name}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	svc := NewService(store, log.New(io.Discard))
	resolver := access.NewResolver(store)

	org, owner, err := svc.CreateOrg(ctx, "Acme Realty", "alice")
	if err != nil {
		t.Fatalf("CreateOrg: %v", err)
	}
	if owner.Role != data.RoleOwner || org.Owner != "alice" {
		t.Fatalf("owner: %+v %+v", org, owner)
	}
	if _, _, err := svc.CreateOrg(ctx, "Ghost", "nobody"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown owner: want ErrNotFound, got %v", err)
	}

	alice, _ := resolver.Agent(ctx, "alice", org.ID, data.RoleOwner)
	if _, err := svc.AddAgent(ctx, alice, "bob", data.RoleAdmin); err != nil {
		t.Fatalf("AddAgent bob: %v", err)
	}
	if _, err := svc.AddAgent(ctx, alice, "bob", data.RoleAgent); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate agent: want ErrConflict, got %v", err)
	}
	if _, err := svc.AddAgent(ctx, alice, "carol", data.RoleOwner); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("second owner: want ErrInvalidInput, got %v", err)
	}

	bob, _ := resolver.Agent(ctx, "bob", org.ID, data.RoleAdmin)
	if _, err := svc.AddAgent(ctx, bob, "carol", data.RoleAgent); err != nil {
		t.Fatalf("admin adds agent: %v", err)
	}
	carol, _ := resolver.Agent(ctx, "carol", org.ID, data.RoleAgent)
	if _, err := svc.AddAgent(ctx, carol, "dave", data.RoleAgent); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("agent adds agent: want ErrNotFound, got %v", err)
	}

	agents, err := svc.ListAgents(ctx, carol)
	if err != nil || len(agents) != 3 {
		t.Fatalf("ListAgents: %d, %v", len(agents), err)
	}
}

func TestAddAgentCannotExceedCallerRole(t *testing.T) {
	caller := access.AgentCaller{Profile: &data.AgentProfile{Role: data.RoleAdmin}}
	store, _ := memstore.New()
	svc := NewService(store, log.New(io.Discard))
	// admin may grant admin, so only owner is out of reach here
	if _, err := svc.AddAgent(context.Background(), caller, "x", data.RoleOwner); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}
