package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// jsonAPI posts JSON payloads to a transactional email HTTP API.
type jsonAPI struct {
	client   *http.Client
	logger   *slog.Logger
	name     string
	endpoint string
	headers  map[string]string
}

func newJSONAPI(name, endpoint string, headers map[string]string, logger *slog.Logger) *jsonAPI {
	return &jsonAPI{
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		name:     name,
		endpoint: endpoint,
		headers:  headers,
	}
}

// post sends payload, retrying network errors, 429 and 5xx responses.
func (a *jsonAPI) post(ctx context.Context, to string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			a.logger.Info("Email API request starting", "provider", a.name, "method", "POST", "to", to)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			for k, v := range a.headers {
				req.Header.Set(k, v)
			}

			resp, err := a.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				a.logger.Warn("Email API request failed, will retry",
					"provider", a.name,
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					a.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				statusErr := fmt.Errorf("%s API HTTP %d: %s", a.name, resp.StatusCode, bytes.TrimSpace(detail))
				if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
					return retry.Unrecoverable(statusErr)
				}
				a.logger.Warn("Email API returned retryable status", "provider", a.name, "status_code", resp.StatusCode, "to", to)
				return statusErr
			}

			a.logger.Info("Email API request completed",
				"provider", a.name,
				"to", to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Info("Retrying email send after error", "provider", a.name, "attempt", n, "error", err)
		}),
	)
}
