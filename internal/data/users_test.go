package data

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/db"
)

func setupDB(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "realtyhub_data_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	// ensure clean collections in case previous runs left data
	for _, name := range []string{db.Users, db.Orgs, db.AgentProfiles, db.Contacts, db.Rooms, db.Messages, db.Folders, db.Files, db.FileShares} {
		_ = c.Collection(name).Drop(ctx)
	}
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	return NewMongoStore(c)
}

func TestUsersCreateAndGet(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	username := "it-" + time.Now().UTC().Format("150405")
	email := username + "@Example.com"

	user, err := store.CreateUser(ctx, &User{
		Username: username,
		Emails:   []EmailAddress{{Address: email, Primary: true}},
		Password: "hashed-password",
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if _, err := store.CreateUser(ctx, &User{Username: username}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate username: expected ErrConflict, got %v", err)
	}

	byEmail, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Fatalf("GetUserByEmail returned %s, want %s", byEmail.ID.Hex(), user.ID.Hex())
	}

	got, err := store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if got.Username != username {
		t.Fatalf("GetUserByID returned wrong username: %s", got.Username)
	}

	if _, err := store.GetUserByUsername(ctx, "nobody-here"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUsersSocketLifecycle(t *testing.T) {
	store := setupDB(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, &User{Username: "sockets"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := store.SetUserSocket(ctx, "sockets", "node-a.01"); err != nil {
		t.Fatalf("SetUserSocket failed: %v", err)
	}

	onNode, err := store.ListUsersOnNode(ctx, "node-a")
	if err != nil || len(onNode) != 1 {
		t.Fatalf("ListUsersOnNode: got %d users, err %v", len(onNode), err)
	}

	// a newer connection replaced the socket; the old disconnect must not clear it
	if err := store.SetUserSocket(ctx, "sockets", "node-a.02"); err != nil {
		t.Fatalf("SetUserSocket failed: %v", err)
	}
	cleared, err := store.ClearUserSocket(ctx, "sockets", "node-a.01")
	if err != nil || cleared {
		t.Fatalf("stale clear: cleared=%v err=%v", cleared, err)
	}
	cleared, err = store.ClearUserSocket(ctx, "sockets", "node-a.02")
	if err != nil || !cleared {
		t.Fatalf("current clear: cleared=%v err=%v", cleared, err)
	}
}
