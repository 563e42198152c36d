package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"hockey-notifier/auth"
	"hockey-notifier/config"
	"hockey-notifier/email"
	"hockey-notifier/feed"
	"hockey-notifier/live"
	"hockey-notifier/poll"
	"hockey-notifier/server"
	"hockey-notifier/storage"
	"hockey-notifier/webhook"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app holds every long-lived component, built once from configuration.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	gcsClient   *gcs.Client
	fsClient    *firestore.Client
	pool        *pgxpool.Pool
	subscribers *storage.Subscribers
	ledger      *storage.Ledger
	poller      *poll.Poller
	live        *live.Store
	webhooks    *webhook.Registry
	server      *server.Server
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func emailFactory(cfg *config.Config, logger *slog.Logger) email.Factory {
	switch cfg.EmailProvider {
	case config.EmailBrevo:
		return email.BrevoFactory(cfg.BrevoAPIKey, cfg.EmailFrom, cfg.EmailFromName, logger)
	case config.EmailSendGrid:
		return email.SendGridFactory(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName, logger)
	case config.EmailGmail:
		return email.GmailFactory(cfg.GoogleCredentialsJSON, logger)
	default:
		logger.Info("Mock email mode enabled (no email provider credentials)")
		return email.MockFactory(email.NewMockProvider(logger))
	}
}

// newApp wires the components and loads persisted state.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.IsLocal() {
		logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage)
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			return nil, fmt.Errorf("create local storage directory: %w", err)
		}
	} else {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.gcsClient = client
	}
	objects := storage.New(a.gcsClient, cfg.StorageBucket, cfg.LocalStorage, logger)

	a.subscribers = storage.NewSubscribers(objects, logger)
	if err := a.subscribers.Load(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.ledger = storage.NewLedger(objects, logger)
	if err := a.ledger.Load(ctx); err != nil {
		a.close()
		return nil, err
	}

	dispatcher := email.NewDispatcher(a.subscribers, emailFactory(cfg, logger), logger)
	a.poller = poll.New(&poll.Config{
		Fetcher:       feed.New(cfg.FFHBaseURL, cfg.FFHSeason, cfg.FFHRequestsPerMin, logger),
		Detector:      poll.NewDetector(a.ledger, dispatcher, logger),
		Logger:        logger,
		Sources:       feed.DefaultSources(),
		SourceTimeout: cfg.SourceTimeout,
		Workers:       cfg.PollWorkers,
	})

	primary, err := a.livePrimary(ctx, objects)
	if err != nil {
		a.close()
		return nil, err
	}
	a.webhooks = webhook.NewRegistry(logger)
	a.live = live.New(primary, webhook.NewDispatcher(a.webhooks, cfg.WebhookTimeout, logger), cfg.PrimaryTimeout, logger)

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set, every admin request will be rejected")
	}
	a.server = server.New(&server.Config{
		Subscribers:   a.subscribers,
		Ledger:        a.ledger,
		Poller:        a.poller,
		Live:          a.live,
		Webhooks:      a.webhooks,
		Verifier:      auth.NewSharedSecret(cfg.AdminToken),
		Logger:        logger,
		CORSOrigins:   cfg.CORSOrigins,
		SubscribeRate: cfg.SubscribeRate,
	})
	return a, nil
}

func (a *app) livePrimary(ctx context.Context, objects *storage.Store) (live.Primary, error) {
	switch a.cfg.LiveBackend {
	case config.LiveBackendPostgres:
		return a.postgresPrimary(ctx)
	case config.LiveBackendFirestore:
		client, err := firestore.NewClient(ctx, a.cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		a.fsClient = client
		a.logger.Info("Live matches stored in Firestore",
			"project", a.cfg.FirestoreProject,
			"collection", a.cfg.FirestoreCollection)
		return live.NewFirestorePrimary(client, a.cfg.FirestoreCollection, a.logger), nil
	default:
		a.logger.Info("Live matches stored as objects", "backend", config.LiveBackendBucket)
		return live.NewBucketPrimary(objects, a.logger), nil
	}
}

func (a *app) postgresPrimary(ctx context.Context) (live.Primary, error) {
	pool, err := live.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBPoolMinConns, a.cfg.DBPoolMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.pool = pool
	primary := live.NewPostgresPrimary(pool, a.logger)
	if err := primary.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("Live matches stored in Postgres",
		"min_conns", a.cfg.DBPoolMinConns,
		"max_conns", a.cfg.DBPoolMaxConns)
	return primary, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.fsClient != nil {
		if err := a.fsClient.Close(); err != nil {
			a.logger.Warn("Failed to close firestore client", "error", err)
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("Failed to close storage client", "error", err)
		}
	}
}
