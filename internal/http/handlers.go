package httpapi

import (
	"net/http"

	"github.com/example/ride-booking/internal/identity"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg identity.Registration
	if err := decode(r, &reg); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.Directory.RegisterCustomer(r.Context(), reg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, sess)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var reg identity.Registration
	if err := decode(r, &reg); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.Directory.RegisterDriver(r.Context(), reg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, sess)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decode(r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.Directory.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, sess)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.Directory.Me(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Directory.ListUsers(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondList(w, users)
}
