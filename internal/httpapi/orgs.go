package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/PaulBabatuyi/realtyhub/internal/apperr"
	"github.com/PaulBabatuyi/realtyhub/internal/contacts"
	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

func (s *Server) createOrg(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	org, profile, err := s.orgs.CreateOrg(r.Context(), req.Name, claimsOf(r).Username)
	if org == nil && err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, http.StatusCreated, map[string]any{"org": org, "profile": profile}, err)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agent, err := s.agent(r, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agents, err := s.orgs.ListAgents(r.Context(), agent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) addAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	role, ok := data.ParseRole(req.Role)
	if !ok {
		s.writeError(w, r, apperr.FieldErrors{{Field: "role", Msg: "must be admin or agent"}})
		return
	}
	agent, err := s.agent(r, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	profile, err := s.orgs.AddAgent(r.Context(), agent, req.Username, role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) createContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
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
	contact, room, err := s.contacts.Create(r.Context(), agent, contacts.Input{Name: req.Name, Email: req.Email, Phone: req.Phone})
	if contact == nil && err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, http.StatusCreated, map[string]any{"contact": contact, "room": room}, err)
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	agent, err := s.agent(r, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.contacts.List(r.Context(), agent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getContact(w http.ResponseWriter, r *http.Request) {
	c, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "contactId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	contact, err := s.contacts.Get(r.Context(), c, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

func (s *Server) deleteContact(w http.ResponseWriter, r *http.Request) {
	agent, err := s.agent(r, data.RoleAgent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := pathID(r, "contactId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.contacts.Delete(r.Context(), agent, id)
	s.writeResult(w, r, http.StatusOK, map[string]string{"msg": "contact deleted"}, err)
}

func (s *Server) redeemInvite(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.Me(r.Context(), claimsOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	contact, err := s.contacts.Redeem(r.Context(), mux.Vars(r)["code"], user)
	if contact == nil && err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, r, http.StatusOK, contact, err)
}
