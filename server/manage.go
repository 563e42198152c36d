package server

import (
	"net/http"

	"hockey-notifier/pkg/notifier"

	"github.com/go-chi/chi/v5"
)

type webhookRequest struct {
	URL string `json:"url"`
}

type webhookUpdateRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleWebhookRegister(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.webhooks.Register(req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleWebhookList(w http.ResponseWriter, _ *http.Request) {
	subs := s.webhooks.List()
	if subs == nil {
		subs = []notifier.WebhookSubscription{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"data":  subs,
		"count": len(subs),
	})
}

func (s *Server) handleWebhookUpdate(w http.ResponseWriter, r *http.Request) {
	var req webhookUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Active == nil {
		s.writeError(w, r, errMissing("active"))
		return
	}
	sub, err := s.webhooks.SetActive(chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.webhooks.Unregister(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      id,
	})
}
