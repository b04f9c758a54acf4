package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/realtyhub/internal/access"
	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
	"github.com/PaulBabatuyi/realtyhub/internal/rooms"
)

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.rooms.ListRooms(r.Context(), access.Org(c), access.Participant(c))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.agent(r, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members := make([]string, 0, len(req.Members))
	for _, m := range req.Members {
		c, err := s.resolver.ResolveCaller(r.Context(), m, agent.Profile.OrgID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		members = append(members, access.Participant(c))
	}
	room, err := s.rooms.CreateChannel(r.Context(), agent.Profile.OrgID, req.Name, agent.User.Username, members)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// openDM opens the dm between the calling agent and another agent of the
// org. Dms with contacts are opened when the contact is created.
func (s *Server) openDM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	agent, err := s.agent(r, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	other, err := s.resolver.Agent(r.Context(), req.Username, agent.Profile.OrgID, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	room, created, err := s.rooms.CreateOrGetDM(r.Context(), agent.Profile.OrgID,
		[]string{agent.User.Username, other.User.Username}, nil, agent.User.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, room)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	org, room, err := orgAndRoom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var (
		fe     apperr.FieldErrors
		before *time.Time
		limit  int64
	)
	q := r.URL.Query()
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			fe.Add("before", "must be an RFC 3339 timestamp")
		}
		before = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			fe.Add("limit", "must be a positive number")
		}
		limit = n
	}
	if err := fe.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs, err := s.rooms.ListMessages(r.Context(), org, room, claimsOf(r).Username, before, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Msg         string            `json:"msg"`
		Attachments []data.Attachment `json:"attachments"`
		Link        *data.MessageLink `json:"link"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	org, room, err := orgAndRoom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, err := s.rooms.SendMessage(r.Context(), org, room, claimsOf(r).Username, rooms.MessageInput{
		Text:        req.Msg,
		Attachments: req.Attachments,
		Link:        req.Link,
	})
	if msg == nil || (err != nil && !errors.Is(err, apperr.ErrPartialFailure)) {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, http.StatusCreated, msg, err)
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Msg string `json:"msg"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	org, room, err := orgAndRoom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgID, err := pathID(r, "messageId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, err := s.rooms.EditMessage(r.Context(), org, room, msgID, claimsOf(r).Username, req.Msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	org, room, err := orgAndRoom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.rooms.MarkRead(r.Context(), org, room, claimsOf(r).Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
