package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hockey-notifier/pkg/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticRecipients []string

func (s staticRecipients) List() []string { return s }

// flakyProvider fails for the listed recipients.
type flakyProvider struct {
	failFor map[string]bool
	sent    []string
	mu      sync.Mutex
}

func (f *flakyProvider) Send(_ context.Context, to, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	if f.failFor[to] {
		return errors.New("mailbox unavailable")
	}
	return nil
}

var finished = notifier.ContestRecord{
	Home: "Team A", Away: "Team B",
	HomeScore: intPtr(3), AwayScore: intPtr(1),
	Status: notifier.StatusFinished, UpstreamID: "77",
}

func TestDispatcherNoSubscribersIsNoop(t *testing.T) {
	called := false
	factory := func(context.Context) (Provider, error) {
		called = true
		return nil, errors.New("must not be built")
	}
	d := NewDispatcher(staticRecipients(nil), factory, testLogger())

	report, err := d.Send(context.Background(), finished, "Elite")
	require.NoError(t, err)
	assert.Equal(t, "no subscribers", report.Skipped)
	assert.Empty(t, report.Outcomes)
	assert.False(t, called)
}

func TestDispatcherUnconfiguredIsNoop(t *testing.T) {
	d := NewDispatcher(staticRecipients{"a@x.com"}, nil, testLogger())
	assert.False(t, d.Configured())

	report, err := d.Send(context.Background(), finished, "Elite")
	require.NoError(t, err)
	assert.Equal(t, "delivery not configured", report.Skipped)
}

func TestDispatcherConstructionFailure(t *testing.T) {
	d := NewDispatcher(staticRecipients{"a@x.com"}, BrevoFactory("", "from@x.com", "", testLogger()), testLogger())

	_, err := d.Send(context.Background(), finished, "Elite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BREVO_API_KEY")
}

func TestDispatcherContinuesAfterRecipientFailure(t *testing.T) {
	p := &flakyProvider{failFor: map[string]bool{"b@x.com": true}}
	factory := func(context.Context) (Provider, error) { return p, nil }
	d := NewDispatcher(staticRecipients{"a@x.com", "b@x.com", "c@x.com"}, factory, testLogger())

	report, err := d.Send(context.Background(), finished, "Elite")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, p.sent)
	assert.Equal(t, 2, report.Sent())
	assert.Equal(t, 1, report.Failed())
	assert.ErrorIs(t, report.Outcomes[1].Err, notifier.ErrDeliveryFailed)
	assert.Equal(t, "Fin de match: Team A vs Team B", report.Subject)
}

func TestDispatcherBuildsProviderOnce(t *testing.T) {
	builds := 0
	mock := NewMockProvider(testLogger())
	factory := func(context.Context) (Provider, error) {
		builds++
		return mock, nil
	}
	d := NewDispatcher(staticRecipients{"a@x.com"}, factory, testLogger())

	for range 3 {
		_, err := d.Send(context.Background(), finished, "Elite")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, builds)
	assert.Len(t, mock.Sent(), 3)
}

func TestBrevoProviderPostsJSON(t *testing.T) {
	var got brevoSendRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewBrevoProvider("key-123", "club@x.com", "Club", testLogger())
	p.api.endpoint = srv.URL

	require.NoError(t, p.Send(context.Background(), "fan@x.com", "Fin de match", "<p>3-1</p>"))
	assert.Equal(t, "key-123", apiKey)
	assert.Equal(t, "club@x.com", got.Sender.Email)
	assert.Equal(t, "fan@x.com", got.To[0].Email)
	assert.Equal(t, "<p>3-1</p>", got.HTML)
}

func TestSendGridProviderClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewSendGridProvider("sg-key", "club@x.com", "", testLogger())
	p.api.endpoint = srv.URL

	err := p.Send(context.Background(), "fan@x.com", "s", "b")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMockProviderKeepsRecentMessages(t *testing.T) {
	mock := NewMockProvider(testLogger())
	for i := range mockKeep + 50 {
		require.NoError(t, mock.Send(context.Background(), fmt.Sprintf("u%d@x.com", i), "s", "b"))
	}

	sent := mock.Sent()
	require.Len(t, sent, mockKeep)
	assert.Equal(t, "u50@x.com", sent[0].To)
	assert.Equal(t, fmt.Sprintf("u%d@x.com", mockKeep+49), sent[len(sent)-1].To)
}

func TestGmailClientHasTimeout(t *testing.T) {
	client, err := gmailClient(context.Background(), 3*time.Second, option.WithoutAuthentication())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, client.Timeout)
}
