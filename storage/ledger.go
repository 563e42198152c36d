package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LedgerKey is the object holding the notified fingerprints.
const LedgerKey = "notified_matches.json"

// Ledger is the append-only set of fingerprints that already triggered a
// notification. Entries are never removed.
type Ledger struct {
	store   objectStore
	logger  *slog.Logger
	set     map[string]struct{}
	timeout time.Duration
	mu      sync.Mutex
}

// NewLedger creates an empty ledger. Call Load to replay the persisted set.
func NewLedger(store objectStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		logger:  logger,
		set:     make(map[string]struct{}),
		timeout: PersistTimeout,
	}
}

// Load replaces the in-memory set with the persisted one.
func (l *Ledger) Load(ctx context.Context) error {
	set, err := loadSet(ctx, l.store, LedgerKey)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	l.mu.Lock()
	l.set = set
	l.mu.Unlock()
	l.logger.Info("Notified ledger loaded", "count", len(set))
	return nil
}

// Contains reports whether fp was already committed.
func (l *Ledger) Contains(fp string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.set[fp]
	return ok
}

// Commit records fp and persists the ledger. If persisting fails the
// fingerprint stays committed in memory, so this process will not notify for
// it again, and the error is returned for the caller to log.
func (l *Ledger) Commit(ctx context.Context, fp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.set[fp]; ok {
		return nil
	}
	l.set[fp] = struct{}{}
	if err := saveSet(ctx, l.store, LedgerKey, l.set, l.timeout); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	l.logger.Debug("Fingerprint committed", "fingerprint", fp, "total", len(l.set))
	return nil
}

// Count returns the number of committed fingerprints.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.set)
}
