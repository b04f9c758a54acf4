package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/integrations"
	"github.com/PaulBabatuyi/realtyhub/internal/memstore"
)

type recorder struct {
	mu     sync.Mutex
	pushes []integrations.Push
	emails []integrations.Email
	fail   bool
}

func (r *recorder) Send(_ context.Context, p integrations.Push) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, p)
	if r.fail {
		return errors.New("push provider down")
	}
	return nil
}

type mailRecorder struct{ r *recorder }

func (m mailRecorder) Send(_ context.Context, e integrations.Email) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	m.r.emails = append(m.r.emails, e)
	return nil
}

func TestNotifyOffline(t *testing.T) {
	ctx := context.Background()
	store, _ := memstore.New()
	withEmail, _ := store.CreateContact(ctx, &data.Contact{Name: "Dana", Email: "dana@example.com"})
	noEmail, _ := store.CreateContact(ctx, &data.Contact{Name: "Ed"})

	rec := &recorder{fail: true}
	n := New(store, mailRecorder{rec}, rec, log.New(io.Discard))

	room := &data.Room{ID: bson.NewObjectID(), Type: data.RoomChannel, Name: "general"}
	msg := &data.Message{Sender: "alice", Text: "Offer accepted"}
	n.NotifyOffline(ctx, room, msg, []Recipient{
		{Participant: "bob", User: &data.User{Username: "bob"}},
		{Participant: withEmail.Placeholder(), ContactID: withEmail.ID},
		{Participant: noEmail.Placeholder(), ContactID: noEmail.ID},
	})
	n.Wait()

	if len(rec.pushes) != 1 || rec.pushes[0].ExternalUserID != "bob" || rec.pushes[0].Title != "alice in #general" {
		t.Fatalf("pushes: %+v", rec.pushes)
	}
	if len(rec.emails) != 1 || rec.emails[0].To != "dana@example.com" {
		t.Fatalf("emails: %+v", rec.emails)
	}
}
