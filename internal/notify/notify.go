// Package notify reaches message recipients who are not connected.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/integrations"
)

const sendTimeout = 10 * time.Second

// Recipient is an offline room participant. User is nil for a contact
// that has not been bound to an account yet.
type Recipient struct {
	Participant string
	User        *data.User
	ContactID   bson.ObjectID
}

// Notifier pushes to offline users and emails offline unbound contacts.
// Sends happen in the background; failures are logged and never retried.
type Notifier struct {
	contacts data.ContactStore
	mailer   integrations.Mailer
	pusher   integrations.Pusher
	logger   *log.Logger

	wg sync.WaitGroup
}

// New returns a Notifier.
func New(contacts data.ContactStore, mailer integrations.Mailer, pusher integrations.Pusher, logger *log.Logger) *Notifier {
	return &Notifier{
		contacts: contacts,
		mailer:   mailer,
		pusher:   pusher,
		logger:   logger.With("component", "notify"),
	}
}

// NotifyOffline notifies every recipient of msg in room.
func (n *Notifier) NotifyOffline(ctx context.Context, room *data.Room, msg *data.Message, recipients []Recipient) {
	if len(recipients) == 0 {
		return
	}
	// the request may finish before the sends do
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for _, r := range recipients {
			sctx, cancel := context.WithTimeout(ctx, sendTimeout)
			if r.User != nil {
				n.push(sctx, room, msg, r)
			} else if !r.ContactID.IsZero() {
				n.email(sctx, msg, r)
			}
			cancel()
		}
	}()
}

func (n *Notifier) push(ctx context.Context, room *data.Room, msg *data.Message, r Recipient) {
	title := msg.Sender
	if room.Type == data.RoomChannel && room.Name != "" {
		title = fmt.Sprintf("%s in #%s", msg.Sender, room.Name)
	}
	err := n.pusher.Send(ctx, integrations.Push{
		ExternalUserID: r.User.Username,
		Title:          title,
		Body:           preview(msg),
		URL:            "/rooms/" + room.ID.Hex(),
	})
	if err != nil {
		n.logger.Warn("push failed", "user", r.User.Username, "room", room.ID.Hex(), "err", err)
	}
}

func (n *Notifier) email(ctx context.Context, msg *data.Message, r Recipient) {
	contact, err := n.contacts.GetContact(ctx, r.ContactID)
	if err != nil {
		n.logger.Warn("email lookup failed", "contact", r.ContactID.Hex(), "err", err)
		return
	}
	if contact.Email == "" {
		return
	}
	err = n.mailer.Send(ctx, integrations.Email{
		To:       contact.Email,
		Subject:  "New message from " + msg.Sender,
		TextBody: preview(msg),
	})
	if err != nil {
		n.logger.Warn("email failed", "contact", contact.ID.Hex(), "err", err)
	}
}

// Wait blocks until background sends have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func preview(msg *data.Message) string {
	const max = 140
	text := []rune(msg.Text)
	if len(text) > max {
		return string(text[:max]) + "…"
	}
	if len(text) == 0 && len(msg.Attachments) > 0 {
		return "sent an attachment"
	}
	return string(text)
}
