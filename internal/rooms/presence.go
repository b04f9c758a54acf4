package rooms

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/events"
)

// Connect records socketID as the user's live connection and marks the user
// online in every room. It must finish before the connection's first inbound
// event is handled.
func (m *Manager) Connect(ctx context.Context, username, socketID string) error {
	if err := m.store.SetUserSocket(ctx, username, socketID); err != nil {
		return err
	}
	if _, err := m.store.SetPresence(ctx, username, true, socketID); err != nil {
		return err
	}
	m.announcePresence(ctx, username)
	return nil
}

// Disconnect marks the user offline, unless the user has since connected
// again with a different connection id.
func (m *Manager) Disconnect(ctx context.Context, username, socketID string) error {
	cleared, err := m.store.ClearUserSocket(ctx, username, socketID)
	if err != nil {
		return err
	}
	if !cleared {
		return nil
	}
	if _, err := m.store.SetPresence(ctx, username, false, ""); err != nil {
		return err
	}
	m.announcePresence(ctx, username)
	return nil
}

// ReconcileNode clears presence left behind by connections of node that
// ended without a disconnect, e.g. when the process was killed. It returns
// how many users were reset.
func (m *Manager) ReconcileNode(ctx context.Context, node string) (int, error) {
	users, err := m.store.ListUsersOnNode(ctx, node)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, u := range users {
		if err := m.Disconnect(ctx, u.Username, u.SocketID); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// announcePresence tells the other online participants of the user's rooms
// that its presence changed.
func (m *Manager) announcePresence(ctx context.Context, username string) {
	rooms, err := m.store.ListRoomsForParticipant(ctx, bson.ObjectID{}, username)
	if err != nil {
		m.logger.Warn("presence broadcast skipped", "user", username, "err", err)
		return
	}
	for _, r := range rooms {
		if r.Deleted {
			continue
		}
		m.emit(ctx, r, username, events.Event{Name: events.RoomUpdated, Data: presenceDelta(r, username)})
	}
}

type presenceUpdate struct {
	RoomID bson.ObjectID `json:"roomId"`
	User   string        `json:"user"`
	Online bool          `json:"online"`
}

func presenceDelta(r *data.Room, username string) presenceUpdate {
	return presenceUpdate{RoomID: r.ID, User: username, Online: r.UserStatus[username].Online}
}
