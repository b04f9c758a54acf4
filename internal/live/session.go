package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/auth"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/events"
	"github.com/PaulBabatuyi/realtyhub/internal/ids"
	"github.com/PaulBabatuyi/realtyhub/internal/middleware"
	"github.com/PaulBabatuyi/realtyhub/internal/rooms"
)

// Frame is one inbound or outbound frame, {event, data}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenData is the payload of the handshake and of updateToken events.
type TokenData struct {
	Token string `json:"token"`
}

// Channel holds what every session needs. Transports open one session per
// connection.
type Channel struct {
	jwt     *auth.JWTManager
	rooms   *rooms.Manager
	hub     *Hub
	limiter *middleware.LimiterStore
	node    string
	logger  *log.Logger
}

// NewChannel returns a Channel for connections owned by node. limiter
// bounds inbound events per connection and may be nil.
func NewChannel(jwt *auth.JWTManager, rm *rooms.Manager, hub *Hub, limiter *middleware.LimiterStore, node string, logger *log.Logger) *Channel {
	return &Channel{
		jwt:     jwt,
		rooms:   rm,
		hub:     hub,
		limiter: limiter,
		node:    node,
		logger:  logger.With("component", "live"),
	}
}

// Session is one live connection.
type Session struct {
	ch       *Channel
	conn     Sender
	socketID string
	username string
	logger   *log.Logger
}

// SocketID returns the connection id.
func (s *Session) SocketID() string { return s.socketID }

// Username returns the authenticated user, or "" when the session is
// unauthenticated.
func (s *Session) Username() string { return s.username }

// Open registers conn and authenticates it with bundle. A bundle that fails
// both halves leaves the session unauthenticated rather than refusing it.
// Presence is recorded before Open returns, so it is in place before the
// first inbound event is handled.
func (ch *Channel) Open(ctx context.Context, conn Sender, bundle string) *Session {
	s := &Session{ch: ch, conn: conn, socketID: ids.ConnectionID(ch.node)}
	s.logger = ch.logger.With("socket", s.socketID)
	ch.hub.Register(s.socketID, conn)

	claims, err := s.verify(bundle)
	if err != nil {
		s.logger.Debug("unauthenticated connection", "err", err)
		return s
	}
	if err := ch.rooms.Connect(ctx, claims.Username, s.socketID); err != nil {
		s.logger.Error("presence update on connect failed", "user", claims.Username, "err", err)
		return s
	}
	s.username = claims.Username
	s.logger = s.logger.With("user", s.username)
	s.logger.Debug("connected")
	return s
}

// Close unregisters the connection and, for an authenticated session,
// marks the user offline unless it has reconnected elsewhere.
func (s *Session) Close(ctx context.Context) {
	s.ch.hub.Unregister(s.socketID)
	if s.username == "" {
		return
	}
	// the transport's context is usually gone by now
	ctx = context.WithoutCancel(ctx)
	if err := s.ch.rooms.Disconnect(ctx, s.username, s.socketID); err != nil {
		s.logger.Error("presence update on disconnect failed", "err", err)
		return
	}
	s.logger.Debug("disconnected")
}

// verify checks a credential bundle and pushes a rotated pair to the client
// when the refresh half had to be used.
func (s *Session) verify(bundle string) (*auth.Claims, error) {
	claims, rotated, err := s.ch.jwt.Verify(bundle)
	if err != nil {
		return nil, err
	}
	if rotated != nil {
		s.send(events.Event{Name: events.UpdateToken, Data: TokenData{Token: rotated.String()}})
	}
	return claims, nil
}

func (s *Session) send(ev events.Event) {
	if err := s.conn.Send(ev); err != nil {
		s.logger.Warn("send failed", "event", ev.Name, "err", err)
	}
}

func (s *Session) fail(err error) {
	s.send(events.Event{Name: events.Error, Data: events.ErrorData{Msg: apperr.Message(err)}})
}

type sendPayload struct {
	Token       string            `json:"token"`
	OrgID       string            `json:"orgId"`
	RoomID      string            `json:"roomId"`
	Msg         string            `json:"msg"`
	Attachments []data.Attachment `json:"attachments,omitempty"`
	Link        *data.MessageLink `json:"link,omitempty"`
}

type readPayload struct {
	Token  string `json:"token"`
	OrgID  string `json:"orgId"`
	RoomID string `json:"roomId"`
}

// Handle processes one inbound frame. Failures are reported to the client
// as error events and never end the session.
func (s *Session) Handle(ctx context.Context, f Frame) {
	if s.ch.limiter != nil && !s.ch.limiter.Allow("live:"+s.socketID) {
		s.fail(fmt.Errorf("%w: rate limit exceeded", apperr.ErrInvalidInput))
		return
	}
	var err error
	switch f.Event {
	case events.MsgSend:
		err = s.handleSend(ctx, f.Data)
	case events.RoomRead:
		err = s.handleRead(ctx, f.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", apperr.ErrInvalidInput, f.Event)
	}
	if err != nil {
		s.logger.Debug("event rejected", "event", f.Event, "err", err)
		s.fail(err)
	}
}

// HandleRaw decodes one JSON frame and handles it. A frame that does not
// decode is reported to the client.
func (s *Session) HandleRaw(ctx context.Context, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		s.fail(fmt.Errorf("%w: malformed frame", apperr.ErrInvalidInput))
		return
	}
	s.Handle(ctx, f)
}

// authorize re-verifies the credential carried by an event. It must belong
// to the user the session was opened for.
func (s *Session) authorize(token string) (*auth.Claims, error) {
	if s.username == "" {
		return nil, fmt.Errorf("%w: connection is not authenticated", apperr.ErrUnauthenticated)
	}
	claims, err := s.verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Username != s.username {
		return nil, fmt.Errorf("%w: credential belongs to another user", apperr.ErrUnauthenticated)
	}
	return claims, nil
}

func parseIDs(orgID, roomID string) (bson.ObjectID, bson.ObjectID, error) {
	org, err := bson.ObjectIDFromHex(orgID)
	if err != nil {
		return bson.ObjectID{}, bson.ObjectID{}, apperr.FieldErrors{{Field: "orgId", Msg: "is not a valid id"}}
	}
	room, err := bson.ObjectIDFromHex(roomID)
	if err != nil {
		return bson.ObjectID{}, bson.ObjectID{}, apperr.FieldErrors{{Field: "roomId", Msg: "is not a valid id"}}
	}
	return org, room, nil
}

func (s *Session) handleSend(ctx context.Context, raw json.RawMessage) error {
	var p sendPayload
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return fmt.Errorf("%w: malformed payload", apperr.ErrInvalidInput)
	}
	var fe apperr.FieldErrors
	fe.Require("token", p.Token)
	fe.Require("orgId", p.OrgID)
	fe.Require("roomId", p.RoomID)
	if strings.TrimSpace(p.Msg) == "" && len(p.Attachments) == 0 {
		fe.Add("msg", "is required")
	}
	if err := fe.Err(); err != nil {
		return err
	}
	claims, err := s.authorize(p.Token)
	if err != nil {
		return err
	}
	org, room, err := parseIDs(p.OrgID, p.RoomID)
	if err != nil {
		return err
	}
	msg, err := s.ch.rooms.SendMessage(ctx, org, room, claims.Username, rooms.MessageInput{
		Text:        p.Msg,
		Attachments: p.Attachments,
		Link:        p.Link,
	})
	if msg != nil && errors.Is(err, apperr.ErrPartialFailure) {
		// stored; the room state heals on the client's next fetch
		s.logger.Warn("message stored with incomplete propagation", "msg", msg.ID.Hex(), "err", err)
		return nil
	}
	return err
}

func (s *Session) handleRead(ctx context.Context, raw json.RawMessage) error {
	var p readPayload
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return fmt.Errorf("%w: malformed payload", apperr.ErrInvalidInput)
	}
	var fe apperr.FieldErrors
	fe.Require("token", p.Token)
	fe.Require("orgId", p.OrgID)
	fe.Require("roomId", p.RoomID)
	if err := fe.Err(); err != nil {
		return err
	}
	claims, err := s.authorize(p.Token)
	if err != nil {
		return err
	}
	org, room, err := parseIDs(p.OrgID, p.RoomID)
	if err != nil {
		return err
	}
	_, err = s.ch.rooms.MarkRead(ctx, org, room, claims.Username)
	return err
}
