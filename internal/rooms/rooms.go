// Package rooms owns chat rooms, their messages and the per-participant
// presence and notification state stored inside each room.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/events"
	"github.com/PaulBabatuyi/realtyhub/internal/normalize"
	"github.com/PaulBabatuyi/realtyhub/internal/notify"
	"github.com/PaulBabatuyi/realtyhub/internal/obs"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// OfflineNotifier is told about recipients who had no live connection when
// a message was recorded.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, room *data.Room, msg *data.Message, recipients []notify.Recipient)
}

// Manager implements the room lifecycle, message recording and presence.
type Manager struct {
	store    data.Store
	resolver *access.Resolver
	emitter  events.Emitter
	notifier OfflineNotifier
	metrics  *obs.Metrics
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the offline notifier.
func WithNotifier(n OfflineNotifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics records message and cascade metrics.
func WithMetrics(metrics *obs.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager.
func NewManager(store data.Store, resolver *access.Resolver, emitter events.Emitter, logger *log.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		resolver: resolver,
		emitter:  emitter,
		logger:   logger.With("component", "rooms"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetEmitter replaces the emitter. The live channel and the manager depend on
// each other, so one of them is wired after construction.
func (m *Manager) SetEmitter(e events.Emitter) {
	m.emitter = e
}

// sockets returns the current live connection id of every participant that
// has one, read fresh from the store.
func (m *Manager) sockets(ctx context.Context, participants []string) (map[string]*data.User, error) {
	users, err := m.store.GetUsersByUsernames(ctx, participants)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*data.User, len(users))
	for _, u := range users {
		out[u.Username] = u
	}
	return out, nil
}

// emit sends ev to every online participant of room except skip.
func (m *Manager) emit(ctx context.Context, room *data.Room, skip string, ev events.Event) {
	users, err := m.sockets(ctx, room.Users)
	if err != nil {
		m.logger.Warn("socket lookup failed", "room", room.ID.Hex(), "err", err)
		return
	}
	for name, u := range users {
		if name != skip && u.SocketID != "" {
			m.emitter.Emit(u.SocketID, ev)
		}
	}
}

func (m *Manager) emitToUser(ctx context.Context, username string, ev events.Event) {
	u, err := m.store.GetUserByUsername(ctx, username)
	if err != nil || u.SocketID == "" {
		return
	}
	m.emitter.Emit(u.SocketID, ev)
}

func (m *Manager) cascadeFailed(op string) {
	if m.metrics != nil {
		m.metrics.CascadeFailures.WithLabelValues(op).Inc()
	}
}

// initialStatus seeds presence from each participant's current socket.
func (m *Manager) initialStatus(ctx context.Context, participants []string) (map[string]data.ParticipantStatus, error) {
	users, err := m.sockets(ctx, participants)
	if err != nil {
		return nil, err
	}
	status := make(map[string]data.ParticipantStatus, len(participants))
	for _, p := range participants {
		st := data.ParticipantStatus{}
		if u, ok := users[p]; ok && u.SocketID != "" {
			st.Online = true
			st.SocketID = u.SocketID
		}
		status[p] = st
	}
	return status, nil
}

// CreateOrGetDM returns the org's live dm for exactly participants, creating
// it when none exists. The bool reports whether this call created it.
func (m *Manager) CreateOrGetDM(ctx context.Context, orgID bson.ObjectID, participants []string, contacts []data.RoomContact, createdBy string) (*data.Room, bool, error) {
	ps := normalize.Participants(participants)
	if len(ps) < 2 {
		return nil, false, fmt.Errorf("%w: a dm needs at least two participants", apperr.ErrInvalidInput)
	}
	key := normalize.DMKey(ps)

	existing, err := m.store.FindDMRoom(ctx, orgID, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}

	status, err := m.initialStatus(ctx, ps)
	if err != nil {
		return nil, false, err
	}
	room, err := m.store.InsertRoom(ctx, &data.Room{
		OrgID:      orgID,
		Type:       data.RoomDM,
		DMKey:      key,
		Users:      ps,
		Contacts:   contacts,
		UserStatus: status,
		CreatedBy:  createdBy,
	})
	if errors.Is(err, apperr.ErrConflict) {
		// lost a creation race; the winner's room is the answer
		existing, err := m.store.FindDMRoom(ctx, orgID, key)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	m.emit(ctx, room, "", events.Event{Name: events.RoomCreated, Data: room})
	return room, true, nil
}

// CreateChannel creates a named channel. A second channel with the same name
// in the org is a conflict.
func (m *Manager) CreateChannel(ctx context.Context, orgID bson.ObjectID, name, creator string, members []string) (*data.Room, error) {
	name = strings.TrimSpace(name)
	var fe apperr.FieldErrors
	fe.Require("name", name)
	if err := fe.Err(); err != nil {
		return nil, err
	}
	ps := normalize.Participants(append([]string{creator}, members...))
	status, err := m.initialStatus(ctx, ps)
	if err != nil {
		return nil, err
	}
	room, err := m.store.InsertRoom(ctx, &data.Room{
		OrgID:       orgID,
		Type:        data.RoomChannel,
		Name:        name,
		Users:       ps,
		UserStatus:  status,
		DMInitiated: true,
		CreatedBy:   creator,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, fmt.Errorf("channel %q: %w", name, apperr.ErrConflict)
		}
		return nil, err
	}
	m.emit(ctx, room, "", events.Event{Name: events.RoomCreated, Data: room})
	return room, nil
}

// BindContactToUser migrates every room holding the contact's placeholder to
// the bound username. Rooms are migrated one by one; when some fail the
// result wraps apperr.ErrPartialFailure and re-running the call finishes the
// job, since already migrated rooms no longer contain the placeholder.
func (m *Manager) BindContactToUser(ctx context.Context, contact *data.Contact, user *data.User) (int, error) {
	placeholder := contact.Placeholder()
	rooms, err := m.store.ListRoomsForParticipant(ctx, contact.OrgID, placeholder)
	if err != nil {
		return 0, err
	}
	bound := data.RoomContact{
		ContactID: contact.ID,
		Name:      contact.Name,
		Username:  user.Username,
		Image:     user.Image,
	}

	migrated, failed := 0, 0
	for _, r := range rooms {
		ok, err := m.store.ReplaceParticipant(ctx, r.ID, placeholder, bound)
		if err != nil {
			failed++
			m.logger.Error("contact binding failed for room", "room", r.ID.Hex(), "contact", contact.ID.Hex(), "err", err)
			continue
		}
		if ok {
			migrated++
		}
	}

	if user.SocketID != "" {
		if _, err := m.store.SetPresence(ctx, user.Username, true, user.SocketID); err != nil {
			m.logger.Warn("presence update after binding failed", "user", user.Username, "err", err)
		}
	}
	m.emitToUser(ctx, user.Username, events.Event{Name: events.RoomUpdated, Data: map[string]any{"contactId": contact.ID}})

	if failed > 0 {
		m.cascadeFailed("bind_contact")
		return migrated, fmt.Errorf("%w: migrated %d of %d rooms", apperr.ErrPartialFailure, migrated, migrated+failed)
	}
	return migrated, nil
}

// MessageInput is the content of a new message.
type MessageInput struct {
	Text        string
	Attachments []data.Attachment
	Link        *data.MessageLink
}

// SendMessage checks that sender takes part in the room and records the
// message.
func (m *Manager) SendMessage(ctx context.Context, orgID, roomID bson.ObjectID, sender string, in MessageInput) (*data.Message, error) {
	room, err := m.resolver.Room(ctx, orgID, roomID, sender)
	if err != nil {
		return nil, err
	}
	return m.RecordMessage(ctx, room, sender, in)
}

// RecordMessage persists a message and updates every other participant's
// counters. Once the message is stored it is never re-sent: later failures
// return the message together with an error wrapping
// apperr.ErrPartialFailure.
func (m *Manager) RecordMessage(ctx context.Context, room *data.Room, sender string, in MessageInput) (*data.Message, error) {
	if room.Deleted {
		return nil, fmt.Errorf("room %w", apperr.ErrNotFound)
	}
	if strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 {
		return nil, apperr.FieldErrors{{Field: "msg", Msg: "is required"}}
	}

	msg, err := m.store.InsertMessage(ctx, &data.Message{
		OrgID:       room.OrgID,
		RoomID:      room.ID,
		Sender:      sender,
		Text:        in.Text,
		Attachments: in.Attachments,
		Link:        in.Link,
		CreatedAt:   m.now(),
	})
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.MessagesRecorded.Inc()
	}

	recipients := make([]string, 0, len(room.Users))
	for _, p := range room.Users {
		if p != sender {
			recipients = append(recipients, p)
		}
	}

	updated, err := m.store.RecordDelivery(ctx, room.ID, recipients, msg.ID, msg.CreatedAt)
	if err != nil {
		m.logger.Error("recording delivery failed", "room", room.ID.Hex(), "msg", msg.ID.Hex(), "err", err)
		return msg, fmt.Errorf("%w: message stored, room state not updated: %v", apperr.ErrPartialFailure, err)
	}

	users, err := m.sockets(ctx, updated.Users)
	if err != nil {
		m.logger.Error("socket lookup failed", "room", room.ID.Hex(), "err", err)
		return msg, fmt.Errorf("%w: message stored, live delivery skipped: %v", apperr.ErrPartialFailure, err)
	}

	var offline []notify.Recipient
	for _, p := range updated.Users {
		u, isUser := users[p]
		if isUser && u.SocketID != "" {
			m.emitter.Emit(u.SocketID, events.Event{Name: events.RoomUpdated, Data: updated})
			m.emitter.Emit(u.SocketID, events.Event{Name: events.MessageSent, Data: msg})
			continue
		}
		if p == sender {
			continue
		}
		if isUser {
			offline = append(offline, notify.Recipient{Participant: p, User: u})
			continue
		}
		for _, c := range updated.Contacts {
			if c.ContactID.Hex() == p {
				offline = append(offline, notify.Recipient{Participant: p, ContactID: c.ContactID})
			}
		}
	}
	if m.notifier != nil {
		m.notifier.NotifyOffline(ctx, updated, msg, offline)
	}
	return msg, nil
}

// EditMessage replaces the text of a message. Only its sender may edit it.
func (m *Manager) EditMessage(ctx context.Context, orgID, roomID, msgID bson.ObjectID, editor, text string) (*data.Message, error) {
	room, err := m.resolver.Room(ctx, orgID, roomID, editor)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.FieldErrors{{Field: "msg", Msg: "is required"}}
	}
	msg, err := m.store.GetMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.RoomID != room.ID || msg.Sender != editor {
		return nil, fmt.Errorf("message %w", apperr.ErrNotFound)
	}
	edited, err := m.store.UpdateMessageText(ctx, msgID, text, m.now())
	if err != nil {
		return nil, err
	}
	m.emit(ctx, room, "", events.Event{Name: events.MessageUpdated, Data: edited})
	return edited, nil
}

// MarkRead clears the participant's unread state in a room.
func (m *Manager) MarkRead(ctx context.Context, orgID, roomID bson.ObjectID, participant string) (*data.Room, error) {
	if _, err := m.resolver.Room(ctx, orgID, roomID, participant); err != nil {
		return nil, err
	}
	room, err := m.store.MarkRead(ctx, roomID, participant)
	if err != nil {
		return nil, err
	}
	m.emitToUser(ctx, participant, events.Event{Name: events.RoomUpdated, Data: room})
	return room, nil
}

// ListRooms returns the rooms a participant sees: archived rooms and dms
// without any message yet are left out.
func (m *Manager) ListRooms(ctx context.Context, orgID bson.ObjectID, participant string) ([]*data.Room, error) {
	all, err := m.store.ListRoomsForParticipant(ctx, orgID, participant)
	if err != nil {
		return nil, err
	}
	out := make([]*data.Room, 0, len(all))
	for _, r := range all {
		if r.Deleted || (r.Type == data.RoomDM && !r.DMInitiated) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ListMessages returns a page of history, oldest first.
func (m *Manager) ListMessages(ctx context.Context, orgID, roomID bson.ObjectID, participant string, before *time.Time, limit int64) ([]*data.Message, error) {
	if _, err := m.resolver.Room(ctx, orgID, roomID, participant); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	return m.store.ListMessages(ctx, roomID, before, limit)
}

// ArchiveContactRooms archives the live dms of a contact.
func (m *Manager) ArchiveContactRooms(ctx context.Context, contact *data.Contact) error {
	rooms, err := m.store.ListRoomsForParticipant(ctx, contact.OrgID, contact.ParticipantID())
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range rooms {
		if r.Type != data.RoomDM || r.Deleted {
			continue
		}
		if err := m.store.SetRoomDeleted(ctx, r.ID); err != nil {
			failed++
			m.logger.Error("archiving room failed", "room", r.ID.Hex(), "err", err)
			continue
		}
		r.Deleted = true
		m.emit(ctx, r, "", events.Event{Name: events.RoomUpdated, Data: r})
	}
	if failed > 0 {
		m.cascadeFailed("archive_contact_rooms")
		return fmt.Errorf("%w: %d rooms not archived", apperr.ErrPartialFailure, failed)
	}
	return nil
}
