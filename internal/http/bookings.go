package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/models"
)

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.Bookings.List(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondList(w, list)
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.Bookings.Create(r.Context(), actorID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.Bookings.Get(r.Context(), mux.Vars(r)["id"], actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	var patch models.BookingPatch
	if err := decode(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.Bookings.Update(r.Context(), mux.Vars(r)["id"], actorID(r), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.Bookings.Cancel(r.Context(), mux.Vars(r)["id"], actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b)
}

type rateRequest struct {
	Score  int    `json:"score"`
	Review string `json:"review"`
}

func (s *Server) handleRateBooking(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.Bookings.Rate(r.Context(), mux.Vars(r)["id"], actorID(r), req.Score, req.Review)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b)
}

func (s *Server) handlePayBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.Bookings.Pay(r.Context(), mux.Vars(r)["id"], actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, b)
}
