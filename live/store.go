// Package live keeps the mutable state of matches being played: score,
// scorers, cards and status. Writes go to a primary durable store and fall
// back to an in-process cache when the primary is unavailable.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"hockey-notifier/pkg/notifier"
)

// Backend names the storage that served a write.
type Backend string

// Backends.
const (
	BackendPrimary Backend = "primary"
	BackendCache   Backend = "cache"
)

// Primary is the durable store for live match documents.
type Primary interface {
	// Load returns an error wrapping notifier.ErrNotFound when key is absent.
	Load(ctx context.Context, key string) (*notifier.LiveMatch, error)
	Save(ctx context.Context, m *notifier.LiveMatch) error
	// Remove returns an error wrapping notifier.ErrNotFound when key is absent.
	Remove(ctx context.Context, key string) error
	List(ctx context.Context) ([]*notifier.LiveMatch, error)
}

// Notifier receives every successful mutation. Implementations must not
// block for longer than their own delivery timeouts.
type Notifier interface {
	Notify(ctx context.Context, ev notifier.MatchEvent)
}

// Result is the outcome of a write.
type Result struct {
	Match   *notifier.LiveMatch `json:"match,omitempty"`
	Backend Backend             `json:"backend"`
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]{0,127}$`)

// ValidKey reports whether key is usable as a match identifier.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key) && key != "." && key != ".."
}

// Store is the live match store.
type Store struct {
	primary  Primary
	notifier Notifier
	cache    *cache
	logger   *slog.Logger
	now      func() time.Time
	locks    map[string]*sync.Mutex
	timeout  time.Duration
	mu       sync.Mutex
}

// New creates a store. n may be nil when no webhook fan-out is wanted.
// timeout bounds every primary call; zero means 5s.
func New(primary Primary, n Notifier, timeout time.Duration, logger *slog.Logger) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		primary:  primary,
		notifier: n,
		cache:    newCache(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
		timeout:  timeout,
	}
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("match id %q: %w", key, notifier.ErrInvalidInput)
	}
	return nil
}

// Init creates the match as SCHEDULED 0-0. An existing match keeps its state.
func (s *Store) Init(ctx context.Context, key string) (Result, error) {
	if err := checkKey(key); err != nil {
		return Result{}, err
	}
	return s.mutate(ctx, key, true, notifier.EventInitialized, func(*notifier.LiveMatch) {})
}

// ImportReport counts the outcome of an Import.
type ImportReport struct {
	Imported int `json:"imported_count"`
	Existing int `json:"skipped_duplicates"`
	Invalid  int `json:"skipped_invalid"`
}

// Import creates a SCHEDULED 0-0 document for each upstream contest, keyed by
// its upstream id and labelled with its teams and date. Matches already in
// the primary keep their state. The import stops at the first primary
// failure, since a bulk load into the process-local cache would be lost on
// restart.
func (s *Store) Import(ctx context.Context, records []notifier.ContestRecord) (ImportReport, error) {
	var rep ImportReport
	for _, rec := range records {
		key := strings.TrimSpace(rec.UpstreamID)
		if !ValidKey(key) {
			rep.Invalid++
			continue
		}

		_, err := s.Get(ctx, key)
		switch {
		case err == nil:
			rep.Existing++
			continue
		case !errors.Is(err, notifier.ErrNotFound):
			return rep, fmt.Errorf("import match %s: %w", key, err)
		}

		res, err := s.mutate(ctx, key, true, notifier.EventInitialized, func(m *notifier.LiveMatch) {
			m.Home = rec.Home
			m.Away = rec.Away
			m.Date = rec.Date
		})
		if err != nil {
			return rep, fmt.Errorf("import match %s: %w", key, err)
		}
		if res.Backend == BackendCache {
			return rep, fmt.Errorf("import match %s: %w", key, notifier.ErrPrimaryStoreUnavailable)
		}
		rep.Imported++
	}
	s.logger.Info("Live matches imported",
		"imported", rep.Imported,
		"existing", rep.Existing,
		"invalid", rep.Invalid)
	return rep, nil
}

// Get reads the match from the primary only. The fallback cache is never
// used for reads.
func (s *Store) Get(ctx context.Context, key string) (*notifier.LiveMatch, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	m, err := s.primary.Load(ctx, key)
	if err != nil {
		if errors.Is(err, notifier.ErrNotFound) {
			return nil, fmt.Errorf("match %s: %w", key, notifier.ErrNotFound)
		}
		return nil, fmt.Errorf("load match %s: %w: %w", key, notifier.ErrPrimaryStoreUnavailable, err)
	}
	return m, nil
}

// List returns every match in the primary.
func (s *Store) List(ctx context.Context) ([]*notifier.LiveMatch, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	matches, err := s.primary.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w: %w", notifier.ErrPrimaryStoreUnavailable, err)
	}
	return matches, nil
}

// UpdateScore sets both scores, creating the match if needed.
func (s *Store) UpdateScore(ctx context.Context, key string, home, away int) (Result, error) {
	if err := checkKey(key); err != nil {
		return Result{}, err
	}
	if home < 0 || away < 0 {
		return Result{}, fmt.Errorf("negative score %d-%d: %w", home, away, notifier.ErrInvalidInput)
	}
	return s.mutate(ctx, key, true, notifier.EventScoreUpdated, func(m *notifier.LiveMatch) {
		m.ScoreHome = home
		m.ScoreAway = away
	})
}

// AddScorer appends a goal event. The match must exist.
func (s *Store) AddScorer(ctx context.Context, key string, ev notifier.Scorer) (Result, error) {
	if err := checkKey(key); err != nil {
		return Result{}, err
	}
	if ev.Player == "" || !ev.Side.Valid() || ev.Minute < 0 {
		return Result{}, fmt.Errorf("scorer %+v: %w", ev, notifier.ErrInvalidInput)
	}
	return s.mutate(ctx, key, false, notifier.EventScorerAdded, func(m *notifier.LiveMatch) {
		m.Scorers = append(m.Scorers, ev)
	})
}

// AddCard appends a disciplinary event. The match must exist.
func (s *Store) AddCard(ctx context.Context, key string, ev notifier.Card) (Result, error) {
	if err := checkKey(key); err != nil {
		return Result{}, err
	}
	if ev.Player == "" || !ev.Side.Valid() || !ev.Color.Valid() || ev.Minute < 0 {
		return Result{}, fmt.Errorf("card %+v: %w", ev, notifier.ErrInvalidInput)
	}
	return s.mutate(ctx, key, false, notifier.EventCardAdded, func(m *notifier.LiveMatch) {
		m.Cards = append(m.Cards, ev)
	})
}

// SetStatus changes the lifecycle status. No ordering between LIVE and
// FINISHED is enforced. The match must exist.
func (s *Store) SetStatus(ctx context.Context, key string, status notifier.LiveStatus) (Result, error) {
	if err := checkKey(key); err != nil {
		return Result{}, err
	}
	if !status.Valid() {
		return Result{}, fmt.Errorf("status %q: %w", status, notifier.ErrInvalidInput)
	}
	return s.mutate(ctx, key, false, notifier.EventStatusChanged, func(m *notifier.LiveMatch) {
		m.Status = status
	})
}

// Delete removes the match. A missing match is NotFound.
func (s *Store) Delete(ctx context.Context, key string) (Result, error) {
	if err := checkKey(key); err != nil {
		return Result{}, err
	}
	backend, err := s.remove(ctx, key)
	if err != nil {
		return Result{}, err
	}
	res := Result{Backend: backend}
	s.logger.Info("Live match deleted", "match_id", key, "backend", backend)
	s.emit(ctx, notifier.EventDeleted, key, res)
	return res, nil
}

func (s *Store) remove(ctx context.Context, key string) (Backend, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.primary.Remove(ctx, key)
	switch {
	case err == nil:
		s.cache.remove(key)
		return BackendPrimary, nil
	case errors.Is(err, notifier.ErrNotFound):
		return "", fmt.Errorf("match %s: %w", key, notifier.ErrNotFound)
	}

	s.logger.Warn("Primary store unavailable, deleting from fallback cache", "match_id", key, "error", err)
	if !s.cache.remove(key) {
		return "", fmt.Errorf("delete match %s: %w: %w", key, notifier.ErrPrimaryStoreUnavailable, err)
	}
	return BackendCache, nil
}

// mutate runs a read-modify-write against the primary and falls back to the
// cache on any primary error other than not-found. Callers observe either one
// complete write or an error.
func (s *Store) mutate(ctx context.Context, key string, create bool, typ notifier.MatchEventType, apply func(*notifier.LiveMatch)) (Result, error) {
	res, err := s.write(ctx, key, create, typ, apply)
	if err != nil {
		return Result{}, err
	}
	s.emit(ctx, typ, key, res)
	return res, nil
}

func (s *Store) write(ctx context.Context, key string, create bool, typ notifier.MatchEventType, apply func(*notifier.LiveMatch)) (Result, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	res, primaryErr := s.mutatePrimary(ctx, key, create, now, apply)
	if primaryErr != nil {
		if errors.Is(primaryErr, notifier.ErrNotFound) {
			return Result{}, primaryErr
		}

		s.logger.Warn("Primary store unavailable, writing to fallback cache",
			"match_id", key,
			"event", typ,
			"error", primaryErr)
		m, ok := s.cache.mutate(key, create, now, apply)
		if !ok {
			return Result{}, fmt.Errorf("write match %s: %w: %w", key, notifier.ErrPrimaryStoreUnavailable, primaryErr)
		}
		res = Result{Match: m, Backend: BackendCache}
	}

	s.logger.Info("Live match updated",
		"match_id", key,
		"event", typ,
		"backend", res.Backend,
		"score_home", res.Match.ScoreHome,
		"score_away", res.Match.ScoreAway,
		"status", res.Match.Status)
	return res, nil
}

func (s *Store) mutatePrimary(ctx context.Context, key string, create bool, now time.Time, apply func(*notifier.LiveMatch)) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	m, err := s.primary.Load(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, notifier.ErrNotFound):
		if !create {
			return Result{}, fmt.Errorf("match %s: %w", key, notifier.ErrNotFound)
		}
		m = notifier.NewLiveMatch(key, now)
	default:
		return Result{}, fmt.Errorf("load: %w", err)
	}

	apply(m)
	m.LastUpdated = now
	if err := s.primary.Save(ctx, m); err != nil {
		return Result{}, fmt.Errorf("save: %w", err)
	}
	return Result{Match: m.Clone(), Backend: BackendPrimary}, nil
}

func (s *Store) emit(ctx context.Context, typ notifier.MatchEventType, key string, res Result) {
	if s.notifier == nil {
		return
	}
	// The write is already durable; a caller that went away must not abort delivery.
	s.notifier.Notify(context.WithoutCancel(ctx), notifier.MatchEvent{
		Timestamp: s.now(),
		Match:     res.Match,
		Type:      typ,
		MatchKey:  key,
		Backend:   string(res.Backend),
	})
}

// CachedCount returns how many documents live only in the fallback cache.
func (s *Store) CachedCount() int {
	return s.cache.len()
}
