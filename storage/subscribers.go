package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hockey-notifier/pkg/notifier"
)

// SubscribersKey is the object holding the subscriber set.
const SubscribersKey = "email_subscribers.json"

// Subscribers is the persisted set of notification recipients.
// Every mutation rewrites the whole set before returning.
type Subscribers struct {
	store   objectStore
	logger  *slog.Logger
	set     map[string]struct{}
	timeout time.Duration
	mu      sync.RWMutex
}

// NewSubscribers creates an empty registry. Call Load to replay the persisted set.
func NewSubscribers(store objectStore, logger *slog.Logger) *Subscribers {
	return &Subscribers{
		store:   store,
		logger:  logger,
		set:     make(map[string]struct{}),
		timeout: PersistTimeout,
	}
}

// NormalizeIdentity lower-cases and trims an identity and checks it has a
// local part and a domain separated by "@".
func NormalizeIdentity(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	at := strings.Index(id, "@")
	if at <= 0 || at == len(id)-1 {
		return "", fmt.Errorf("identity %q: %w", id, notifier.ErrInvalidIdentity)
	}
	return id, nil
}

// Load replaces the in-memory set with the persisted one.
func (s *Subscribers) Load(ctx context.Context) error {
	set, err := loadSet(ctx, s.store, SubscribersKey)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	s.logger.Info("Subscribers loaded", "count", len(set))
	return nil
}

// Add inserts id. Adding an existing identity succeeds without rewriting storage.
func (s *Subscribers) Add(ctx context.Context, id string) error {
	id, err := NormalizeIdentity(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[id]; ok {
		return nil
	}
	s.set[id] = struct{}{}
	if err := saveSet(ctx, s.store, SubscribersKey, s.set, s.timeout); err != nil {
		delete(s.set, id)
		return fmt.Errorf("persist subscribers: %w", err)
	}
	s.logger.Info("Subscriber added", "email", id, "total", len(s.set))
	return nil
}

// Remove deletes id and reports whether it was present. Removing an absent
// identity is not an error.
func (s *Subscribers) Remove(ctx context.Context, id string) (bool, error) {
	id = strings.ToLower(strings.TrimSpace(id))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[id]; !ok {
		return false, nil
	}
	delete(s.set, id)
	if err := saveSet(ctx, s.store, SubscribersKey, s.set, s.timeout); err != nil {
		s.set[id] = struct{}{}
		return false, fmt.Errorf("persist subscribers: %w", err)
	}
	s.logger.Info("Subscriber removed", "email", id, "total", len(s.set))
	return true, nil
}

// List returns the subscribers in sorted order.
func (s *Subscribers) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.set)
}

// Count returns the number of subscribers.
func (s *Subscribers) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}
