package email

import (
	"context"
	"log/slog"
	"sync"
)

// mockKeep is how many recent messages MockProvider retains.
const mockKeep = 100

// MockProvider logs emails instead of sending them. The most recent messages
// are kept for inspection.
type MockProvider struct {
	logger *slog.Logger
	sent   []Message
	mu     sync.Mutex
}

// Message is one email captured by MockProvider.
type Message struct {
	To      string
	Subject string
	Body    string
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// MockFactory returns a Factory that always yields p.
func MockFactory(p *MockProvider) Factory {
	return func(context.Context) (Provider, error) {
		return p, nil
	}
}

// Send logs the email instead of sending it.
func (m *MockProvider) Send(_ context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	m.sent = append(m.sent, Message{To: to, Subject: subject, Body: htmlBody})
	if len(m.sent) > mockKeep {
		m.sent = append(m.sent[:0], m.sent[len(m.sent)-mockKeep:]...)
	}
	m.mu.Unlock()

	m.logger.Info("MOCK EMAIL",
		"to", to,
		"subject", subject,
		"body_length", len(htmlBody))
	return nil
}

// Sent returns a copy of the retained messages, oldest first.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
