package email

import (
	"context"
	"errors"
	"log/slog"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// BrevoProvider sends emails via Brevo (formerly Sendinblue) API.
type BrevoProvider struct {
	api      *jsonAPI
	fromAddr string
	fromName string
}

// NewBrevoProvider creates a new Brevo email provider.
func NewBrevoProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		api:      newJSONAPI("brevo", brevoEndpoint, map[string]string{"api-key": apiKey}, logger),
		fromAddr: fromAddr,
		fromName: fromName,
	}
}

// BrevoFactory returns a Factory that fails when the API key or sender is missing.
func BrevoFactory(apiKey, fromAddr, fromName string, logger *slog.Logger) Factory {
	return func(context.Context) (Provider, error) {
		if apiKey == "" {
			return nil, errors.New("BREVO_API_KEY is not set")
		}
		if fromAddr == "" {
			return nil, errors.New("EMAIL_FROM is not set")
		}
		return NewBrevoProvider(apiKey, fromAddr, fromName, logger), nil
	}
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send sends an email via Brevo API.
func (b *BrevoProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	return b.api.post(ctx, to, brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: to}},
		Subject: subject,
		HTML:    htmlBody,
	})
}
