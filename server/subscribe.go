package server

import (
	"fmt"
	"net/http"
	"strings"

	"hockey-notifier/storage"
)

type subscriptionRequest struct {
	Email string `json:"email"`
}

type subscriptionResponse struct {
	Message          string `json:"message"`
	Success          bool   `json:"success"`
	TotalSubscribers int    `json:"total_subscribers"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	email, err := storage.NormalizeIdentity(req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.subscribers.Add(r.Context(), email); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, subscriptionResponse{
		Success:          true,
		Message:          fmt.Sprintf("Abonné avec succès à %s", email),
		TotalSubscribers: s.subscribers.Count(),
	})
}

// handleUnsubscribe always succeeds for well-formed requests, whether or not
// the address was subscribed.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.subscribers.Remove(r.Context(), email); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, subscriptionResponse{
		Success:          true,
		Message:          fmt.Sprintf("Désinscrit avec succès: %s", email),
		TotalSubscribers: s.subscribers.Count(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	subscribers := s.subscribers.List()
	if subscribers == nil {
		subscribers = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total_subscribers":      len(subscribers),
		"total_notified_matches": s.ledger.Count(),
		"subscribers":            subscribers,
	})
}
