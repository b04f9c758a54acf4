package httpapi

import (
	"net/http"

	"github.com/PaulBabatuyi/realtyhub/internal/data"
)

type sessionResponse struct {
	User  *data.User `json:"user"`
	Token string     `json:"token"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, pair, err := s.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{User: user, Token: pair.String()})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, pair, err := s.accounts.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Token: pair.String()})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, err := s.accounts.Me(r.Context(), claimsOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
