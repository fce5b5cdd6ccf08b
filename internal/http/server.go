// Package httpapi exposes the booking service over JSON/HTTP and mounts
// the realtime gateway on /ws.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/chat"
	"github.com/example/ride-booking/internal/identity"
	"github.com/example/ride-booking/internal/matcher"
)

// Deps are the services the API fronts. Gateway may be nil when the
// process runs without realtime delivery.
type Deps struct {
	Directory *identity.Directory
	Bookings  *booking.Engine
	Matcher   *matcher.Service
	Chat      *chat.Service
	Gateway   http.Handler

	RequestTimeout time.Duration
	RateLimit      RateLimit
}

type Server struct {
	Deps
	logger  *slog.Logger
	limiter *clientLimiter
	mux     *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 5 * time.Second
	}
	s := &Server{
		Deps:    deps,
		logger:  logger,
		limiter: newClientLimiter(deps.RateLimit),
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.Gateway != nil {
		s.mux.Handle("/ws", s.Gateway).Methods(http.MethodGet)
	}

	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware, s.timeoutMiddleware)

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/drivers/register", s.handleRegisterDriver).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)

	authed.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)

	authed.HandleFunc("/bookings", s.handleListBookings).Methods(http.MethodGet)
	authed.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	authed.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods(http.MethodGet)
	authed.HandleFunc("/bookings/{id}", s.handleUpdateBooking).Methods(http.MethodPut)
	authed.HandleFunc("/bookings/{id}", s.handleCancelBooking).Methods(http.MethodDelete)
	authed.HandleFunc("/bookings/{id}/rate", s.handleRateBooking).Methods(http.MethodPost)
	authed.HandleFunc("/bookings/{id}/pay", s.handlePayBooking).Methods(http.MethodPost)

	authed.HandleFunc("/drivers/status", s.handleDriverStatus).Methods(http.MethodPut)
	authed.HandleFunc("/drivers/location", s.handleDriverLocation).Methods(http.MethodPut)
	authed.HandleFunc("/drivers/bookings/active", s.handleDriverActive).Methods(http.MethodGet)
	authed.HandleFunc("/drivers/bookings/history", s.handleDriverHistory).Methods(http.MethodGet)
	authed.HandleFunc("/drivers/bookings/requests", s.handleDriverRequests).Methods(http.MethodGet)
	authed.HandleFunc("/drivers/bookings/{id}/accept", s.handleAccept).Methods(http.MethodPut)
	authed.HandleFunc("/drivers/bookings/{id}/status", s.handleAdvance).Methods(http.MethodPut)

	authed.HandleFunc("/chats", s.handleMyChats).Methods(http.MethodGet)
	authed.HandleFunc("/chats/booking/{id}", s.handleFetchChat).Methods(http.MethodGet)
	authed.HandleFunc("/chats/booking/{id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	authed.HandleFunc("/chats/booking/{id}/read", s.handleMarkRead).Methods(http.MethodPut)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
