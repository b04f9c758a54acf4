// Package contacts manages an agent's client contacts: their invites, the
// binding of a contact to a user account, and their direct-message rooms.
package contacts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/ids"
	"github.com/PaulBabatuyi/realtyhub/internal/integrations"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"
	"github.com/PaulBabatuyi/realtyhub/internal/rooms"
)

const mailTimeout = 10 * time.Second

// Service implements contact operations.
type Service struct {
	store     data.Store
	resolver  *access.Resolver
	rooms     *rooms.Manager
	mailer    integrations.Mailer
	inviteURL string
	logger    *log.Logger
}

// NewService returns a Service. Invite emails link to inviteURL with the
// code as the "code" query parameter.
func NewService(store data.Store, resolver *access.Resolver, rm *rooms.Manager, mailer integrations.Mailer, inviteURL string, logger *log.Logger) *Service {
	return &Service{
		store:     store,
		resolver:  resolver,
		rooms:     rm,
		mailer:    mailer,
		inviteURL: inviteURL,
		logger:    logger.With("component", "contacts"),
	}
}

// Input is the data of a new contact.
type Input struct {
	Name  string
	Email string
	Phone string
}

// Create adds a contact owned by agent, opens the (not yet surfaced) dm
// between them and emails the invite when the contact has an address. A
// failed email is logged and the contact is kept.
func (s *Service) Create(ctx context.Context, agent access.AgentCaller, in Input) (*data.Contact, *data.Room, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalize.Email(in.Email)
	var fe apperr.FieldErrors
	fe.Require("name", in.Name)
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		fe.Add("email", "is not an email address")
	}
	if err := fe.Err(); err != nil {
		return nil, nil, err
	}

	contact, err := s.store.CreateContact(ctx, &data.Contact{
		OrgID:         agent.Profile.OrgID,
		AgentID:       agent.Profile.ID,
		AgentUsername: agent.User.Username,
		Name:          in.Name,
		Email:         in.Email,
		Phone:         strings.TrimSpace(in.Phone),
		InviteCode:    ids.InviteCode(),
	})
	if err != nil {
		return nil, nil, err
	}

	room, _, err := s.rooms.CreateOrGetDM(ctx, contact.OrgID,
		[]string{agent.User.Username, contact.Placeholder()},
		[]data.RoomContact{{ContactID: contact.ID, Name: contact.Name}},
		agent.User.Username)
	if err != nil {
		s.logger.Error("contact dm not created", "contact", contact.ID.Hex(), "err", err)
		return contact, nil, fmt.Errorf("%w: contact created without dm: %v", apperr.ErrPartialFailure, err)
	}

	if contact.Email != "" {
		s.sendInvite(ctx, agent, contact)
	}
	return contact, room, nil
}

func (s *Service) sendInvite(ctx context.Context, agent access.AgentCaller, c *data.Contact) {
	ctx, cancel := context.WithTimeout(ctx, mailTimeout)
	defer cancel()
	link := s.inviteURL + "?code=" + url.QueryEscape(c.InviteCode)
	err := s.mailer.Send(ctx, integrations.Email{
		To:       c.Email,
		Subject:  fmt.Sprintf("%s invited you to chat", agent.User.Username),
		TextBody: fmt.Sprintf("Hi %s,\n\n%s invited you to RealtyHub. Accept the invite: %s\n", c.Name, agent.User.Username, link),
	})
	if err != nil {
		s.logger.Warn("invite email failed", "contact", c.ID.Hex(), "err", err)
	}
}

// Redeem binds the contact issued code to user and moves the contact's
// rooms over to the user. An invite can be redeemed once.
func (s *Service) Redeem(ctx context.Context, code string, user *data.User) (*data.Contact, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.FieldErrors{{Field: "code", Msg: "is required"}}
	}
	contact, err := s.store.GetContactByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.checkRedeemer(ctx, contact, user.Username); err != nil {
		return nil, err
	}
	bound, err := s.store.BindContact(ctx, contact.ID, user.Username)
	if err != nil {
		return nil, err
	}
	n, err := s.rooms.BindContactToUser(ctx, bound, user)
	if err != nil {
		return bound, err
	}
	s.logger.Info("contact bound", "contact", bound.ID.Hex(), "user", user.Username, "rooms", n)
	return bound, nil
}

// checkRedeemer refuses a user who already takes part in one of the
// contact's rooms, the owning agent included. Binding would merge the
// placeholder into that user and leave a dm with a single participant.
func (s *Service) checkRedeemer(ctx context.Context, contact *data.Contact, username string) error {
	if username == contact.AgentUsername {
		return fmt.Errorf("%w: an agent cannot redeem its own contact's invite", apperr.ErrConflict)
	}
	rooms, err := s.store.ListRoomsForParticipant(ctx, contact.OrgID, contact.Placeholder())
	if err != nil {
		return err
	}
	for _, r := range rooms {
		if r.HasParticipant(username) {
			return fmt.Errorf("%w: user already takes part in the contact's conversation", apperr.ErrConflict)
		}
	}
	return nil
}

// Delete removes a contact and archives its dms. The owning agent and org
// admins may delete it.
func (s *Service) Delete(ctx context.Context, agent access.AgentCaller, contactID bson.ObjectID) error {
	contact, err := s.resolver.Contact(ctx, agent, contactID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteContact(ctx, contact.ID); err != nil {
		return err
	}
	return s.rooms.ArchiveContactRooms(ctx, contact)
}

// List returns the agent's own contacts.
func (s *Service) List(ctx context.Context, agent access.AgentCaller) ([]*data.Contact, error) {
	return s.store.ListContactsByAgent(ctx, agent.Profile.ID)
}

// Get returns a contact the caller may see.
func (s *Service) Get(ctx context.Context, c access.Caller, contactID bson.ObjectID) (*data.Contact, error) {
	return s.resolver.Contact(ctx, c, contactID)
}
