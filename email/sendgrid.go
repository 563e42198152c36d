package email

import (
	"context"
	"errors"
	"log/slog"
)

const sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// SendGridProvider sends emails via the SendGrid v3 mail/send API.
type SendGridProvider struct {
	api      *jsonAPI
	fromAddr string
	fromName string
}

// NewSendGridProvider creates a new SendGrid email provider.
func NewSendGridProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *SendGridProvider {
	return &SendGridProvider{
		api:      newJSONAPI("sendgrid", sendGridEndpoint, map[string]string{"Authorization": "Bearer " + apiKey}, logger),
		fromAddr: fromAddr,
		fromName: fromName,
	}
}

// SendGridFactory returns a Factory that fails when the API key or sender is missing.
func SendGridFactory(apiKey, fromAddr, fromName string, logger *slog.Logger) Factory {
	return func(context.Context) (Provider, error) {
		if apiKey == "" {
			return nil, errors.New("SENDGRID_API_KEY is not set")
		}
		if fromAddr == "" {
			return nil, errors.New("EMAIL_FROM is not set")
		}
		return NewSendGridProvider(apiKey, fromAddr, fromName, logger), nil
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Personalizations []sendGridPersonalization `json:"personalizations"`
	Content          []sendGridContent         `json:"content"`
}

// Send sends an email via SendGrid API.
func (s *SendGridProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	return s.api.post(ctx, to, sendGridRequest{
		From:             sendGridAddress{Email: s.fromAddr, Name: s.fromName},
		Subject:          subject,
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: to}}}},
		Content:          []sendGridContent{{Type: "text/html", Value: htmlBody}},
	})
}
