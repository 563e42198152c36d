package server

import (
	"fmt"
	"net/http"

	"hockey-notifier/feed"
	"hockey-notifier/pkg/notifier"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	sources := s.poller.Sources()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    sources,
		"count":   len(sources),
	})
}

// handleSourceMatches fetches one source and runs detection on the request
// path, so a visitor can trigger notifications between poll cycles.
func (s *Server) handleSourceMatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source")
	src, ok := feed.Lookup(s.poller.Sources(), id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("source %q: %w", id, notifier.ErrNotFound))
		return
	}

	records, res, err := s.poller.CheckSource(r.Context(), src)
	if err != nil {
		s.logger.Warn("Source fetch failed", "source", src.ID, "error", err)
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []notifier.ContestRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"source":   src,
		"data":     records,
		"count":    len(records),
		"notified": res.Notified,
	})
}
