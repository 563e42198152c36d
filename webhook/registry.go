// Package webhook keeps the externally registered callback URLs and fans
// live match mutations out to them.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"hockey-notifier/pkg/notifier"
)

// Registry is the in-process set of webhook subscriptions, keyed by id.
type Registry struct {
	subs   map[string]notifier.WebhookSubscription
	logger *slog.Logger
	now    func() time.Time
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		subs:   make(map[string]notifier.WebhookSubscription),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SubscriptionID derives the id of a subscription from its URL.
func SubscriptionID(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:8]
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse %q: %w: %w", rawURL, notifier.ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q: %w", u.Scheme, notifier.ErrInvalidURL)
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("missing host in %q: %w", rawURL, notifier.ErrInvalidURL)
	}
	return nil
}

// Register adds or refreshes the subscription for rawURL.
func (r *Registry) Register(rawURL string) (notifier.WebhookSubscription, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := validateURL(rawURL); err != nil {
		return notifier.WebhookSubscription{}, err
	}

	sub := notifier.WebhookSubscription{
		ID:           SubscriptionID(rawURL),
		URL:          rawURL,
		RegisteredAt: r.now(),
		Active:       true,
	}

	r.mu.Lock()
	_, existed := r.subs[sub.ID]
	r.subs[sub.ID] = sub
	total := len(r.subs)
	r.mu.Unlock()

	r.logger.Info("Webhook registered", "webhook_id", sub.ID, "url", sub.URL, "refreshed", existed, "total", total)
	return sub, nil
}

// Unregister removes the subscription with id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("webhook %s: %w", id, notifier.ErrNotFound)
	}
	r.logger.Info("Webhook unregistered", "webhook_id", id)
	return nil
}

// SetActive pauses or resumes deliveries to the subscription with id.
func (r *Registry) SetActive(id string, active bool) (notifier.WebhookSubscription, error) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		sub.Active = active
		r.subs[id] = sub
	}
	r.mu.Unlock()

	if !ok {
		return notifier.WebhookSubscription{}, fmt.Errorf("webhook %s: %w", id, notifier.ErrNotFound)
	}
	r.logger.Info("Webhook updated", "webhook_id", id, "active", active)
	return sub, nil
}

// List returns every subscription ordered by registration time.
func (r *Registry) List() []notifier.WebhookSubscription {
	r.mu.RLock()
	out := make([]notifier.WebhookSubscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns the subscriptions that receive deliveries.
func (r *Registry) Active() []notifier.WebhookSubscription {
	var out []notifier.WebhookSubscription
	for _, s := range r.List() {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}
