package poll

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"hockey-notifier/email"
	"hockey-notifier/pkg/notifier"
)

// Ledger records which contests were already notified.
type Ledger interface {
	Contains(fingerprint string) bool
	Commit(ctx context.Context, fingerprint string) error
}

// Notifier sends the end-of-match message to subscribers.
type Notifier interface {
	Send(ctx context.Context, rec notifier.ContestRecord, sourceLabel string) (*email.Report, error)
}

// Fingerprint identifies one contest outcome within a source. It uses the
// upstream id when present and falls back to teams and date otherwise.
func Fingerprint(sourceID string, rec notifier.ContestRecord) string {
	if id := strings.TrimSpace(rec.UpstreamID); id != "" {
		return sourceID + "-" + id
	}
	parts := []string{sourceID, rec.Home, rec.Away, rec.Date}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.ToLower(strings.Join(parts, "-"))
}

// Result summarizes one Detect call.
type Result struct {
	Source          string
	Reports         []*email.Report
	Finished        int // FINISHED records seen
	AlreadyNotified int // skipped because the ledger had them
	Notified        int // dispatched and committed in this call
	DispatchErrors  int
}

// Detector finds newly finished contests and notifies each one once.
type Detector struct {
	ledger   Ledger
	notifier Notifier
	logger   *slog.Logger
	locks    map[string]*sync.Mutex
	mu       sync.Mutex
}

// NewDetector creates a detector.
func NewDetector(ledger Ledger, n Notifier, logger *slog.Logger) *Detector {
	return &Detector{
		ledger:   ledger,
		notifier: n,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (d *Detector) sourceLock(id string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[id]
	if !ok {
		l = &sync.Mutex{}
		d.locks[id] = l
	}
	return l
}

// Detect dispatches a notification for every FINISHED record not yet in the
// ledger, then commits its fingerprint. The commit happens even when dispatch
// fails, so a failed send is never retried. Calls for the same source are
// serialized.
func (d *Detector) Detect(ctx context.Context, src notifier.Source, records []notifier.ContestRecord) Result {
	lock := d.sourceLock(src.ID)
	lock.Lock()
	defer lock.Unlock()

	res := Result{Source: src.ID}
	for _, rec := range records {
		if rec.Status != notifier.StatusFinished {
			continue
		}
		res.Finished++

		fp := Fingerprint(src.ID, rec)
		if d.ledger.Contains(fp) {
			res.AlreadyNotified++
			continue
		}

		d.logger.Info("Finished match detected",
			"source", src.ID,
			"fingerprint", fp,
			"home", rec.Home,
			"away", rec.Away)

		report, err := d.notifier.Send(ctx, rec, src.Label)
		if err != nil {
			res.DispatchErrors++
			d.logger.Error("Notification dispatch failed", "source", src.ID, "fingerprint", fp, "error", err)
		}
		if report != nil {
			res.Reports = append(res.Reports, report)
		}

		if err := d.ledger.Commit(ctx, fp); err != nil {
			d.logger.Error("Failed to persist notified fingerprint", "source", src.ID, "fingerprint", fp, "error", err)
		}
		res.Notified++
	}
	return res
}
