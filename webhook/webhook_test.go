package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hockey-notifier/live"
	"hockey-notifier/pkg/notifier"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func steppingClock() func() time.Time {
	t := time.Date(2025, 10, 12, 15, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRegisterValidatesURL(t *testing.T) {
	r := NewRegistry(testLogger())

	for _, bad := range []string{"", "not a url", "ftp://example.com/hook", "http://", "https:///path", "mailto:a@b.c"} {
		_, err := r.Register(bad)
		assert.ErrorIs(t, err, notifier.ErrInvalidURL, bad)
	}
	assert.Empty(t, r.List())

	sub, err := r.Register("https://example.com/hook")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionID("https://example.com/hook"), sub.ID)
	assert.Len(t, sub.ID, 8)
	assert.True(t, sub.Active)
}

func TestRegisterSameURLRefreshes(t *testing.T) {
	r := NewRegistry(testLogger())
	r.now = steppingClock()

	first, err := r.Register("http://a.example/hook")
	require.NoError(t, err)
	_, err = r.Register("http://b.example/hook")
	require.NoError(t, err)
	again, err := r.Register("http://a.example/hook")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.RegisteredAt.After(first.RegisteredAt))

	subs := r.List()
	require.Len(t, subs, 2)
	assert.Equal(t, "http://b.example/hook", subs[0].URL)
	assert.Equal(t, "http://a.example/hook", subs[1].URL)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(testLogger())
	sub, err := r.Register("https://example.com/hook")
	require.NoError(t, err)

	require.NoError(t, r.Unregister(sub.ID))
	assert.ErrorIs(t, r.Unregister(sub.ID), notifier.ErrNotFound)
	assert.Empty(t, r.List())
}

type capture struct {
	requests []*http.Request
	bodies   [][]byte
	mu       sync.Mutex
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.requests = append(c.requests, r)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func TestDispatchNoSubscriptions(t *testing.T) {
	d := NewDispatcher(NewRegistry(testLogger()), time.Second, testLogger())
	assert.Empty(t, d.Dispatch(context.Background(), notifier.MatchEvent{Type: notifier.EventScoreUpdated}))
}

func TestDispatchIsolatesFailures(t *testing.T) {
	ok := &capture{}
	okSrv := httptest.NewServer(ok.handler(http.StatusNoContent))
	defer okSrv.Close()

	broken := &capture{}
	brokenSrv := httptest.NewServer(broken.handler(http.StatusInternalServerError))
	defer brokenSrv.Close()

	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slowSrv.Close()

	r := NewRegistry(testLogger())
	r.now = steppingClock()
	okSub, _ := r.Register(okSrv.URL + "/hook")
	brokenSub, _ := r.Register(brokenSrv.URL + "/hook")
	slowSub, _ := r.Register(slowSrv.URL + "/hook")

	d := NewDispatcher(r, 200*time.Millisecond, testLogger())
	ev := notifier.MatchEvent{
		Type:     notifier.EventScoreUpdated,
		MatchKey: "m1",
		Backend:  "primary",
		Match:    &notifier.LiveMatch{Key: "m1", ScoreHome: 2, Status: notifier.LiveInPlay},
	}

	start := time.Now()
	outcomes := d.Dispatch(context.Background(), ev)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, outcomes, 3)
	byID := map[string]Outcome{}
	for _, o := range outcomes {
		byID[o.WebhookID] = o
	}
	assert.NoError(t, byID[okSub.ID].Err)
	assert.Equal(t, http.StatusNoContent, byID[okSub.ID].StatusCode)
	assert.ErrorIs(t, byID[brokenSub.ID].Err, notifier.ErrDeliveryFailed)
	assert.Equal(t, http.StatusInternalServerError, byID[brokenSub.ID].StatusCode)
	assert.ErrorIs(t, byID[slowSub.ID].Err, notifier.ErrDeliveryFailed)

	require.Equal(t, 1, ok.count())
	req := ok.requests[0]
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, okSub.ID, req.Header.Get("X-Webhook-ID"))
	_, err := uuid.Parse(req.Header.Get("X-Delivery-ID"))
	assert.NoError(t, err)

	var got notifier.MatchEvent
	require.NoError(t, json.Unmarshal(ok.bodies[0], &got))
	assert.Equal(t, notifier.EventScoreUpdated, got.Type)
	assert.Equal(t, "m1", got.MatchKey)
	assert.Equal(t, 2, got.Match.ScoreHome)
}

func TestInactiveSubscriptionsAreSkipped(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	r := NewRegistry(testLogger())
	sub, err := r.Register(srv.URL)
	require.NoError(t, err)
	paused, err := r.SetActive(sub.ID, false)
	require.NoError(t, err)
	assert.False(t, paused.Active)

	d := NewDispatcher(r, time.Second, testLogger())
	assert.Empty(t, d.Dispatch(context.Background(), notifier.MatchEvent{Type: notifier.EventInitialized}))
	assert.Equal(t, 0, c.count())
	assert.Len(t, r.List(), 1)

	_, err = r.SetActive(sub.ID, true)
	require.NoError(t, err)
	assert.Len(t, d.Dispatch(context.Background(), notifier.MatchEvent{Type: notifier.EventInitialized}), 1)
	assert.Equal(t, 1, c.count())

	_, err = r.SetActive("missing", false)
	assert.ErrorIs(t, err, notifier.ErrNotFound)
}

// memPrimary is a minimal live.Primary for wiring the dispatcher to a store.
type memPrimary struct {
	docs map[string]*notifier.LiveMatch
	mu   sync.Mutex
}

func (p *memPrimary) Load(_ context.Context, key string) (*notifier.LiveMatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.docs[key]
	if !ok {
		return nil, notifier.ErrNotFound
	}
	return m.Clone(), nil
}

func (p *memPrimary) Save(_ context.Context, m *notifier.LiveMatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[m.Key] = m.Clone()
	return nil
}

func (p *memPrimary) Remove(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.docs, key)
	return nil
}

func (p *memPrimary) List(context.Context) ([]*notifier.LiveMatch, error) { return nil, nil }

func TestScoreUpdateReachesWebhook(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	r := NewRegistry(testLogger())
	_, err := r.Register(srv.URL + "/scores")
	require.NoError(t, err)

	store := live.New(&memPrimary{docs: map[string]*notifier.LiveMatch{}}, NewDispatcher(r, time.Second, testLogger()), time.Second, testLogger())
	res, err := store.UpdateScore(context.Background(), "m1", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, live.BackendPrimary, res.Backend)

	require.Equal(t, 1, c.count())
	var got notifier.MatchEvent
	require.NoError(t, json.Unmarshal(c.bodies[0], &got))
	assert.Equal(t, notifier.EventScoreUpdated, got.Type)
	assert.Equal(t, 3, got.Match.ScoreHome)
	assert.Equal(t, 1, got.Match.ScoreAway)
}

func TestScoreUpdateSucceedsWhenWebhookFails(t *testing.T) {
	r := NewRegistry(testLogger())
	_, err := r.Register("http://127.0.0.1:1/unreachable")
	require.NoError(t, err)

	store := live.New(&memPrimary{docs: map[string]*notifier.LiveMatch{}}, NewDispatcher(r, 200*time.Millisecond, testLogger()), time.Second, testLogger())
	res, err := store.UpdateScore(context.Background(), "m1", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Match.ScoreHome)
}
