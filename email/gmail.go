package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	transporthttp "google.golang.org/api/transport/http"
)

// gmailTimeout bounds each Gmail API call, matching the HTTP API providers.
const gmailTimeout = 30 * time.Second

// GmailProvider sends emails via Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
	}
}

// GmailFactory returns a Factory that builds the Gmail service from explicit
// credentials, or from Application Default Credentials when credsJSON is empty.
func GmailFactory(credsJSON string, logger *slog.Logger) Factory {
	return func(ctx context.Context) (Provider, error) {
		opts := []option.ClientOption{option.WithScopes(gmail.GmailSendScope)}
		if credsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
		}
		client, err := gmailClient(ctx, gmailTimeout, opts...)
		if err != nil {
			return nil, err
		}
		svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		return NewGmailProvider(svc, logger), nil
	}
}

// gmailClient builds an authenticated HTTP client whose requests give up
// after timeout.
func gmailClient(ctx context.Context, timeout time.Duration, opts ...option.ClientOption) (*http.Client, error) {
	client, _, err := transporthttp.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail http client: %w", err)
	}
	client.Timeout = timeout
	return client, nil
}

// sanitizeEmailHeader removes CR, LF and other control characters so a value
// cannot inject extra headers.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// buildMIME assembles the raw message; the subject is RFC 2047 encoded since
// team names are often accented.
func buildMIME(to, subject, htmlBody string) string {
	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "To: %s\r\n", sanitizeEmailHeader(to))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sanitizeEmailHeader(subject)))
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	msg.WriteString(htmlBody)
	return msg.String()
}

// Send sends an email via Gmail API.
func (g *GmailProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	encoded := base64.URLEncoding.EncodeToString([]byte(buildMIME(to, subject, htmlBody)))

	return retry.Do(
		func() error {
			startTime := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{
				Raw: encoded,
			}).Context(ctx).Do()
			duration := time.Since(startTime)

			if err != nil {
				g.logger.Warn("Gmail API send failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			g.logger.Info("Gmail API request completed",
				"endpoint", "users.messages.send",
				"to", to,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail email send after error", "attempt", n, "error", err)
		}),
	)
}
