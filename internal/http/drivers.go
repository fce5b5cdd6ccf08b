package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-booking/internal/apperr"
	"github.com/example/ride-booking/internal/models"
)

type availabilityRequest struct {
	Available *bool `json:"isAvailable"`
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Available == nil {
		s.writeError(w, r, apperr.New(apperr.InvalidArgument, "isAvailable is required"))
		return
	}
	u, err := s.Directory.SetAvailability(r.Context(), actorID(r), *req.Available)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, u)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if err := decode(r, &loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Directory.UpdateLocation(r.Context(), actorID(r), loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, loc)
}

type driverListFunc func(ctx context.Context, driverID string) ([]*models.Booking, error)

func (s *Server) driverList(fn driverListFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := fn(r.Context(), actorID(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		respondList(w, list)
	}
}

func (s *Server) handleDriverActive(w http.ResponseWriter, r *http.Request) {
	s.driverList(s.Matcher.Active)(w, r)
}

func (s *Server) handleDriverHistory(w http.ResponseWriter, r *http.Request) {
	s.driverList(s.Matcher.History)(w, r)
}

func (s *Server) handleDriverRequests(w http.ResponseWriter, r *http.Request) {
	s.driverList(s.Matcher.ListRequests)(w, r)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	b, err := s.Matcher.Accept(r.Context(), mux.Vars(r)["id"], actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b)
}

type advanceRequest struct {
	Status models.Status `json:"status"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.Matcher.Advance(r.Context(), mux.Vars(r)["id"], actorID(r), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b)
}
