// Package poll periodically pulls every upstream source and feeds finished
// contests into the detector.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hockey-notifier/pkg/notifier"
)

// Fetcher retrieves the contests of one source.
type Fetcher interface {
	Fetch(ctx context.Context, src notifier.Source) ([]notifier.ContestRecord, error)
}

// Poller runs detection over a fixed set of sources.
type Poller struct {
	fetcher  Fetcher
	detector *Detector
	logger   *slog.Logger
	sources  []notifier.Source
	timeout  time.Duration
	workers  int
}

// Config holds poller configuration.
type Config struct {
	Fetcher       Fetcher
	Detector      *Detector
	Logger        *slog.Logger
	Sources       []notifier.Source
	SourceTimeout time.Duration // Per-source fetch bound, default 15s
	Workers       int           // Concurrent sources, default 4
}

// New creates a poller.
func New(cfg *Config) *Poller {
	timeout := cfg.SourceTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 4
	}
	return &Poller{
		fetcher:  cfg.Fetcher,
		detector: cfg.Detector,
		logger:   cfg.Logger,
		sources:  cfg.Sources,
		timeout:  timeout,
		workers:  workers,
	}
}

// Sources returns the configured sources.
func (p *Poller) Sources() []notifier.Source {
	return p.sources
}

// CycleResult summarizes one CheckAll pass.
type CycleResult struct {
	Failed   map[string]string `json:"failed,omitempty"` // source id -> error
	Sources  int               `json:"sources"`
	Finished int               `json:"finished"`
	Notified int               `json:"notified"`
	Duration time.Duration     `json:"duration_ns"`
}

// Fetch retrieves one source under the per-source timeout without running
// detection.
func (p *Poller) Fetch(ctx context.Context, src notifier.Source) ([]notifier.ContestRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	records, err := p.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetch source %s: %w", src.ID, err)
	}
	return records, nil
}

// CheckSource fetches one source under its own timeout and runs detection on
// the records. A fetch failure returns an error wrapping
// notifier.ErrUpstreamUnavailable and skips detection.
//
// Only the fetch follows ctx. Once records are in hand, detection runs to
// completion even if ctx is cancelled: a fingerprint is committed whether or
// not its send succeeds, so an interrupted send would lose the notification.
func (p *Poller) CheckSource(ctx context.Context, src notifier.Source) ([]notifier.ContestRecord, Result, error) {
	records, err := p.Fetch(ctx, src)
	if err != nil {
		return nil, Result{Source: src.ID}, fmt.Errorf("check source: %w", err)
	}
	return records, p.detector.Detect(context.WithoutCancel(ctx), src, records), nil
}

// CheckAll checks every source once. One source failing or timing out never
// prevents the others from being processed. The returned error is non-nil
// only when ctx was cancelled.
func (p *Poller) CheckAll(ctx context.Context) (*CycleResult, error) {
	start := time.Now()
	result := &CycleResult{Sources: len(p.sources), Failed: make(map[string]string)}
	p.logger.Info("Checking sources", "count", len(p.sources), "timestamp", start.Format(time.RFC3339))

	workers := min(p.workers, len(p.sources))
	ch := make(chan notifier.Source, len(p.sources))
	for _, src := range p.sources {
		ch <- src
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range ch {
				if ctx.Err() != nil {
					return
				}
				_, res, err := p.CheckSource(ctx, src)

				mu.Lock()
				if err != nil {
					result.Failed[src.ID] = err.Error()
					p.logger.Warn("Source check failed", "source", src.ID, "error", err)
				} else {
					result.Finished += res.Finished
					result.Notified += res.Notified
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	result.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		p.logger.Info("Context cancelled, poll cycle incomplete", "error", err)
		return result, err
	}

	p.logger.Info("Source check completed",
		"sources", result.Sources,
		"failed", len(result.Failed),
		"finished", result.Finished,
		"notified", result.Notified,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// Run checks all sources immediately and then every interval until ctx is
// cancelled. Intended to be called with `go`.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	p.logger.Info("Poller started", "interval", interval.String(), "sources", len(p.sources))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.CheckAll(ctx); err != nil {
			p.logger.Info("Poller stopped")
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return
		}
	}
}
