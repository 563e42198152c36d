// Package email sends end-of-match notifications through pluggable providers.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hockey-notifier/pkg/notifier"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send delivers one message to one recipient.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Factory constructs a Provider. It fails when a required credential is missing.
type Factory func(ctx context.Context) (Provider, error)

// Recipients lists the current subscribers.
type Recipients interface {
	List() []string
}

// Outcome is the delivery result for one recipient.
type Outcome struct {
	Err       error
	Recipient string
}

// Report summarizes one Send call.
type Report struct {
	Subject  string
	Skipped  string // Non-empty when nothing was attempted, with the reason
	Outcomes []Outcome
}

// Sent counts successful deliveries.
func (r *Report) Sent() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts failed deliveries.
func (r *Report) Failed() int {
	return len(r.Outcomes) - r.Sent()
}

// Dispatcher renders the finished-match message and sends it to every subscriber.
type Dispatcher struct {
	recipients Recipients
	factory    Factory
	provider   Provider
	logger     *slog.Logger
	mu         sync.Mutex
}

// NewDispatcher creates a dispatcher. A nil factory means delivery is not
// configured and every Send is a successful no-op.
func NewDispatcher(recipients Recipients, factory Factory, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		recipients: recipients,
		factory:    factory,
		logger:     logger,
	}
}

// Configured reports whether a provider factory is set.
func (d *Dispatcher) Configured() bool {
	return d.factory != nil
}

// providerFor builds the provider on first use. A failed build is not cached.
func (d *Dispatcher) providerFor(ctx context.Context) (Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.provider != nil {
		return d.provider, nil
	}
	p, err := d.factory(ctx)
	if err != nil {
		return nil, err
	}
	d.provider = p
	return p, nil
}

// Send notifies every subscriber that rec has finished. Per-recipient failures
// are recorded in the report and never stop delivery to the others. The only
// returned error is a failure to construct the provider.
func (d *Dispatcher) Send(ctx context.Context, rec notifier.ContestRecord, sourceLabel string) (*Report, error) {
	subject := Subject(rec)
	report := &Report{Subject: subject}

	recipients := d.recipients.List()
	if len(recipients) == 0 {
		report.Skipped = "no subscribers"
		d.logger.Debug("Skipping notification, no subscribers", "home", rec.Home, "away", rec.Away)
		return report, nil
	}
	if d.factory == nil {
		report.Skipped = "delivery not configured"
		d.logger.Debug("Skipping notification, no email provider configured", "home", rec.Home, "away", rec.Away)
		return report, nil
	}

	provider, err := d.providerFor(ctx)
	if err != nil {
		return report, fmt.Errorf("construct email provider: %w", err)
	}

	body := FinishedBody(rec, sourceLabel)
	for _, to := range recipients {
		sendErr := provider.Send(ctx, to, subject, body)
		if sendErr != nil {
			sendErr = fmt.Errorf("send to %s: %w: %w", to, notifier.ErrDeliveryFailed, sendErr)
			d.logger.Warn("Failed to deliver notification", "to", to, "subject", subject, "error", sendErr)
		}
		report.Outcomes = append(report.Outcomes, Outcome{Recipient: to, Err: sendErr})
	}

	d.logger.Info("Finished match notification sent",
		"competition", sourceLabel,
		"subject", subject,
		"sent", report.Sent(),
		"failed", report.Failed())
	return report, nil
}
