package server

import (
	"fmt"
	"net/http"

	"hockey-notifier/feed"
	"hockey-notifier/live"
	"hockey-notifier/pkg/notifier"

	"github.com/go-chi/chi/v5"
)

type scoreRequest struct {
	ScoreHome *int `json:"score_home"`
	ScoreAway *int `json:"score_away"`
}

type statusRequest struct {
	Status notifier.LiveStatus `json:"status"`
}

func (s *Server) writeResult(w http.ResponseWriter, res live.Result) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"match":   res.Match,
		"backend": res.Backend,
	})
}

func (s *Server) handleLiveList(w http.ResponseWriter, r *http.Request) {
	matches, err := s.live.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []*notifier.LiveMatch{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    matches,
		"count":   len(matches),
	})
}

// handleLiveImport loads the upstream contests of one source into the live
// store so administrators can follow them.
func (s *Server) handleLiveImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source")
	src, ok := feed.Lookup(s.poller.Sources(), id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("source %q: %w", id, notifier.ErrNotFound))
		return
	}

	records, err := s.poller.Fetch(r.Context(), src)
	if err != nil {
		s.logger.Warn("Source fetch failed", "source", src.ID, "error", err)
		s.writeError(w, r, err)
		return
	}
	rep, err := s.live.Import(r.Context(), records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"source":             src.ID,
		"imported_count":     rep.Imported,
		"skipped_duplicates": rep.Existing,
		"skipped_invalid":    rep.Invalid,
	})
}

func (s *Server) handleLiveGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.live.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleLiveInit(w http.ResponseWriter, r *http.Request) {
	res, err := s.live.Init(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, res)
}

func (s *Server) handleLiveScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ScoreHome == nil || req.ScoreAway == nil {
		s.writeError(w, r, errMissing("score_home and score_away"))
		return
	}
	res, err := s.live.UpdateScore(r.Context(), chi.URLParam(r, "id"), *req.ScoreHome, *req.ScoreAway)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, res)
}

func (s *Server) handleLiveScorer(w http.ResponseWriter, r *http.Request) {
	var ev notifier.Scorer
	if err := decodeJSON(r, &ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.live.AddScorer(r.Context(), chi.URLParam(r, "id"), ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, res)
}

func (s *Server) handleLiveCard(w http.ResponseWriter, r *http.Request) {
	var ev notifier.Card
	if err := decodeJSON(r, &ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.live.AddCard(r.Context(), chi.URLParam(r, "id"), ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, res)
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.live.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, res)
}

func (s *Server) handleLiveDelete(w http.ResponseWriter, r *http.Request) {
	res, err := s.live.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeResult(w, res)
}
