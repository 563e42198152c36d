// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"hockey-notifier/auth"
	"hockey-notifier/live"
	"hockey-notifier/pkg/notifier"
	"hockey-notifier/poll"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Subscribers is the email subscriber registry.
type Subscribers interface {
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) (bool, error)
	List() []string
	Count() int
}

// Ledger reports how many matches were already notified.
type Ledger interface {
	Count() int
}

// Poller runs detection over upstream sources.
type Poller interface {
	Sources() []notifier.Source
	Fetch(ctx context.Context, src notifier.Source) ([]notifier.ContestRecord, error)
	CheckSource(ctx context.Context, src notifier.Source) ([]notifier.ContestRecord, poll.Result, error)
	CheckAll(ctx context.Context) (*poll.CycleResult, error)
}

// LiveStore holds live match documents.
type LiveStore interface {
	Init(ctx context.Context, key string) (live.Result, error)
	Get(ctx context.Context, key string) (*notifier.LiveMatch, error)
	List(ctx context.Context) ([]*notifier.LiveMatch, error)
	UpdateScore(ctx context.Context, key string, home, away int) (live.Result, error)
	AddScorer(ctx context.Context, key string, ev notifier.Scorer) (live.Result, error)
	AddCard(ctx context.Context, key string, ev notifier.Card) (live.Result, error)
	SetStatus(ctx context.Context, key string, status notifier.LiveStatus) (live.Result, error)
	Delete(ctx context.Context, key string) (live.Result, error)
	Import(ctx context.Context, records []notifier.ContestRecord) (live.ImportReport, error)
	CachedCount() int
}

// Webhooks is the webhook subscription registry.
type Webhooks interface {
	Register(rawURL string) (notifier.WebhookSubscription, error)
	Unregister(id string) error
	SetActive(id string, active bool) (notifier.WebhookSubscription, error)
	List() []notifier.WebhookSubscription
}

// Server handles HTTP requests.
type Server struct {
	subscribers   Subscribers
	ledger        Ledger
	poller        Poller
	live          LiveStore
	webhooks      Webhooks
	verifier      auth.Verifier
	logger        *slog.Logger
	started       time.Time
	corsOrigins   []string
	subscribeRate int
}

// Config holds server configuration.
type Config struct {
	Subscribers   Subscribers
	Ledger        Ledger
	Poller        Poller
	Live          LiveStore
	Webhooks      Webhooks
	Verifier      auth.Verifier
	Logger        *slog.Logger
	CORSOrigins   []string // Defaults to all origins
	SubscribeRate int      // Subscribe requests per minute per IP, 0 disables
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		subscribers:   cfg.Subscribers,
		ledger:        cfg.Ledger,
		poller:        cfg.Poller,
		live:          cfg.Live,
		webhooks:      cfg.Webhooks,
		verifier:      cfg.Verifier,
		logger:        cfg.Logger,
		started:       time.Now(),
		corsOrigins:   origins,
		subscribeRate: cfg.SubscribeRate,
	}
}

// Handler builds the router with every route and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(timingMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Process-Time", "X-Request-Id"},
	})
	r.Use(c.Handler)

	r.Get("/health", s.handleHealth)
	r.With(s.requireAdmin).Post("/pollz", s.handlePoll)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.rateLimit(s.subscribeRate)).Post("/subscribe", s.handleSubscribe)
		r.Delete("/unsubscribe", s.handleUnsubscribe)
		r.Get("/notifications/stats", s.handleStats)

		r.Get("/sources", s.handleSources)
		r.Get("/sources/{source}/matches", s.handleSourceMatches)

		r.Get("/live/matches", s.handleLiveList)
		r.With(s.requireAdmin).Post("/live/import/{source}", s.handleLiveImport)
		r.Route("/live/match/{id}", func(r chi.Router) {
			r.Get("/", s.handleLiveGet)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/init", s.handleLiveInit)
				r.Put("/score", s.handleLiveScore)
				r.Post("/scorer", s.handleLiveScorer)
				r.Post("/card", s.handleLiveCard)
				r.Put("/status", s.handleLiveStatus)
				r.Delete("/", s.handleLiveDelete)
			})
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/", s.handleWebhookRegister)
			r.Get("/", s.handleWebhookList)
			r.Patch("/{id}", s.handleWebhookUpdate)
			r.Delete("/{id}", s.handleWebhookDelete)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, notifier.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		resp := errorResponse{}
		resp.Error.Code = "METHOD_NOT_ALLOWED"
		resp.Error.Message = "method not allowed"
		s.writeJSON(w, http.StatusMethodNotAllowed, resp)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      30 * time.Second,  // Time to write response
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "healthy",
		"uptime_seconds":         int(time.Since(s.started).Seconds()),
		"subscribers":            s.subscribers.Count(),
		"notified_matches":       s.ledger.Count(),
		"sources":                len(s.poller.Sources()),
		"webhooks":               len(s.webhooks.List()),
		"live_cached_only_count": s.live.CachedCount(),
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered")

	result, err := s.poller.CheckAll(r.Context())
	if err != nil {
		s.logger.Error("Poll check failed", "error", err)
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "completed",
		"result": result,
	})
}
