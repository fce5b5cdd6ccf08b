package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleMyChats(w http.ResponseWriter, r *http.Request) {
	list, err := s.Chat.Mine(r.Context(), actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondList(w, list)
}

func (s *Server) handleFetchChat(w http.ResponseWriter, r *http.Request) {
	c, err := s.Chat.Fetch(r.Context(), mux.Vars(r)["id"], actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, c)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.Chat.Post(r.Context(), mux.Vars(r)["id"], actorID(r), req.Content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, m)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.Chat.MarkRead(r.Context(), mux.Vars(r)["id"], actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]int{"marked": n})
}
