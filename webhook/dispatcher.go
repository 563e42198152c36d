package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"hockey-notifier/pkg/notifier"

	"github.com/google/uuid"
)

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Err        error  `json:"-"`
	WebhookID  string `json:"webhook_id"`
	DeliveryID string `json:"delivery_id"`
	StatusCode int    `json:"status_code,omitempty"`
}

// Dispatcher POSTs match events to every active subscription.
type Dispatcher struct {
	registry *Registry
	client   *http.Client
	logger   *slog.Logger
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. timeout bounds each POST; zero means 5s.
func NewDispatcher(registry *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		client:   &http.Client{},
		logger:   logger,
		timeout:  timeout,
	}
}

// Dispatch delivers ev to each active subscription concurrently and waits for
// every delivery to finish. Failures are logged and reported in the returned
// outcomes, never as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev notifier.MatchEvent) []Outcome {
	subs := d.registry.Active()
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("Failed to encode webhook payload", "event", ev.Type, "match_id", ev.MatchKey, "error", err)
		return nil
	}

	outcomes := make([]Outcome, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub notifier.WebhookSubscription) {
			defer wg.Done()
			outcomes[i] = d.deliver(ctx, sub, body)
		}(i, sub)
	}
	wg.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	d.logger.Info("Webhook fan-out complete",
		"event", ev.Type,
		"match_id", ev.MatchKey,
		"delivered", len(outcomes)-failed,
		"failed", failed)
	return outcomes
}

// Notify adapts Dispatch to the live store's notifier contract.
func (d *Dispatcher) Notify(ctx context.Context, ev notifier.MatchEvent) {
	d.Dispatch(ctx, ev)
}

func (d *Dispatcher) deliver(ctx context.Context, sub notifier.WebhookSubscription, body []byte) Outcome {
	out := Outcome{WebhookID: sub.ID, DeliveryID: uuid.NewString()}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		out.Err = fmt.Errorf("build request: %w: %w", notifier.ErrDeliveryFailed, err)
		d.logFailure(sub, out)
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", sub.ID)
	req.Header.Set("X-Delivery-ID", out.DeliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		out.Err = fmt.Errorf("post webhook: %w: %w", notifier.ErrDeliveryFailed, err)
		d.logFailure(sub, out)
		return out
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.Warn("Failed to close webhook response body", "error", closeErr)
		}
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	out.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out.Err = fmt.Errorf("webhook returned %d: %w", resp.StatusCode, notifier.ErrDeliveryFailed)
		d.logFailure(sub, out)
		return out
	}

	d.logger.Debug("Webhook delivered", "webhook_id", sub.ID, "delivery_id", out.DeliveryID, "status", resp.StatusCode)
	return out
}

func (d *Dispatcher) logFailure(sub notifier.WebhookSubscription, out Outcome) {
	d.logger.Warn("Webhook delivery failed",
		"webhook_id", sub.ID,
		"url", sub.URL,
		"delivery_id", out.DeliveryID,
		"error", out.Err)
}
