package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hockey-notifier/auth"
	"hockey-notifier/email"
	"hockey-notifier/live"
	"hockey-notifier/pkg/notifier"
	"hockey-notifier/poll"
	"hockey-notifier/storage"
	"hockey-notifier/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "let-me-in"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	records map[string][]notifier.ContestRecord
}

func (f *fakeFetcher) Fetch(_ context.Context, src notifier.Source) ([]notifier.ContestRecord, error) {
	recs, ok := f.records[src.ID]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", src.ID, notifier.ErrUpstreamUnavailable)
	}
	return recs, nil
}

func intPtr(v int) *int { return &v }

type testEnv struct {
	srv         *httptest.Server
	subscribers *storage.Subscribers
	ledger      *storage.Ledger
	mail        *email.MockProvider
	live        *live.Store
}

func newTestEnv(t *testing.T, subscribeRate int) *testEnv {
	t.Helper()
	logger := testLogger()
	objects := storage.New(nil, "", t.TempDir(), logger)

	subscribers := storage.NewSubscribers(objects, logger)
	ledger := storage.NewLedger(objects, logger)
	mail := email.NewMockProvider(logger)
	dispatcher := email.NewDispatcher(subscribers, email.MockFactory(mail), logger)

	fetcher := &fakeFetcher{records: map[string][]notifier.ContestRecord{
		"elite-hommes": {
			{UpstreamID: "101", Home: "Lille", Away: "Carquefou", Date: "2025-10-12", Status: notifier.StatusFinished, HomeScore: intPtr(2), AwayScore: intPtr(3)},
			{UpstreamID: "102", Home: "Blanc-Mesnil", Away: "Montrouge", Date: "2025-10-19", Status: notifier.StatusScheduled},
		},
	}}
	poller := poll.New(&poll.Config{
		Fetcher:  fetcher,
		Detector: poll.NewDetector(ledger, dispatcher, logger),
		Logger:   logger,
		Sources: []notifier.Source{
			{ID: "elite-hommes", Label: "Elite Hommes", ManifID: "4317"},
			{ID: "broken", Label: "Broken", ManifID: "1"},
		},
		SourceTimeout: time.Second,
	})

	hooks := webhook.NewRegistry(logger)
	store := live.New(live.NewBucketPrimary(objects, logger), webhook.NewDispatcher(hooks, time.Second, logger), time.Second, logger)

	s := New(&Config{
		Subscribers:   subscribers,
		Ledger:        ledger,
		Poller:        poller,
		Live:          store,
		Webhooks:      hooks,
		Verifier:      auth.NewSharedSecret(adminToken),
		Logger:        logger,
		SubscribeRate: subscribeRate,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, subscribers: subscribers, ledger: ledger, mail: mail, live: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, admin bool) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			rd = bytes.NewBufferString(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			rd = bytes.NewReader(b)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)
	resp, body := env.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Process-Time"))
}

func TestSubscribeFlow(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, body := env.do(t, http.MethodPost, "/api/v1/subscribe", map[string]string{"email": "  Fan@Example.com "}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["total_subscribers"])

	_, body = env.do(t, http.MethodPost, "/api/v1/subscribe", map[string]string{"email": "fan@example.com"}, false)
	assert.EqualValues(t, 1, body["total_subscribers"])
	assert.Equal(t, []string{"fan@example.com"}, env.subscribers.List())

	resp, body = env.do(t, http.MethodPost, "/api/v1/subscribe", map[string]string{"email": "no-at-sign"}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_IDENTITY", errorCode(body))

	resp, body = env.do(t, http.MethodPost, "/api/v1/subscribe", "{not json", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errorCode(body))

	_, body = env.do(t, http.MethodGet, "/api/v1/notifications/stats", nil, false)
	assert.EqualValues(t, 1, body["total_subscribers"])
	assert.EqualValues(t, 0, body["total_notified_matches"])
	assert.Equal(t, []any{"fan@example.com"}, body["subscribers"])

	resp, body = env.do(t, http.MethodDelete, "/api/v1/unsubscribe", map[string]string{"email": "FAN@example.com"}, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total_subscribers"])

	resp, body = env.do(t, http.MethodDelete, "/api/v1/unsubscribe", map[string]string{"email": "nobody@example.com"}, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
}

func TestSubscribeRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/subscribe", map[string]string{"email": "a@example.com"}, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := env.do(t, http.MethodPost, "/api/v1/subscribe", map[string]string{"email": "b@example.com"}, false)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", errorCode(body))
	assert.Equal(t, 1, env.subscribers.Count())
}

func TestSourceMatchesDetectsOnRequestPath(t *testing.T) {
	env := newTestEnv(t, 0)
	require.NoError(t, env.subscribers.Add(context.Background(), "fan@example.com"))

	resp, body := env.do(t, http.MethodGet, "/api/v1/sources", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/sources/elite-hommes/matches", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["notified"])

	_, body = env.do(t, http.MethodGet, "/api/v1/sources/elite-hommes/matches", nil, false)
	assert.EqualValues(t, 0, body["notified"])

	sent := env.mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "fan@example.com", sent[0].To)
	assert.Equal(t, "Fin de match: Lille vs Carquefou", sent[0].Subject)
	assert.Equal(t, 1, env.ledger.Count())

	resp, body = env.do(t, http.MethodGet, "/api/v1/sources/broken/matches", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", errorCode(body))

	resp, body = env.do(t, http.MethodGet, "/api/v1/sources/nope/matches", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestPollzRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, body := env.do(t, http.MethodPost, "/pollz", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	resp, body = env.do(t, http.MethodPost, "/pollz", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	result := body["result"].(map[string]any)
	assert.EqualValues(t, 2, result["sources"])
	assert.Contains(t, result["failed"], "broken")
}

func TestLiveMutationsRequireAdmin(t *testing.T) {
	env := newTestEnv(t, 0)

	mutations := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/v1/live/match/m1/init", nil},
		{http.MethodPut, "/api/v1/live/match/m1/score", map[string]int{"score_home": 1, "score_away": 0}},
		{http.MethodPost, "/api/v1/live/match/m1/scorer", map[string]any{"player": "A", "side": "home", "minute": 3}},
		{http.MethodPost, "/api/v1/live/match/m1/card", map[string]any{"player": "A", "side": "home", "minute": 3, "color": "green"}},
		{http.MethodPut, "/api/v1/live/match/m1/status", map[string]string{"status": "LIVE"}},
		{http.MethodDelete, "/api/v1/live/match/m1", nil},
	}
	for _, m := range mutations {
		resp, body := env.do(t, m.method, m.path, m.body, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, m.path)
		assert.Equal(t, "UNAUTHORIZED", errorCode(body), m.path)
	}

	resp, _ := env.do(t, http.MethodGet, "/api/v1/live/match/m1", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "rejected writes never reach the store")

	resp, _ = env.do(t, http.MethodPost, "/api/v1/live/match/m1/init?admin_token="+adminToken, nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLiveMatchLifecycle(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, body := env.do(t, http.MethodPost, "/api/v1/live/match/m1/init", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "primary", body["backend"])
	match := body["match"].(map[string]any)
	assert.Equal(t, "SCHEDULED", match["status"])
	assert.EqualValues(t, 0, match["score_home"])

	resp, body = env.do(t, http.MethodPut, "/api/v1/live/match/m1/score", map[string]int{"score_home": 2, "score_away": 1}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["match"].(map[string]any)["score_home"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/live/match/m1/scorer", map[string]any{"player": "Dupont", "side": "home", "minute": 12}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/v1/live/match/m1/card", map[string]any{"player": "Martin", "side": "away", "minute": 20, "color": "yellow"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPut, "/api/v1/live/match/m1/status", map[string]string{"status": "LIVE"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/live/match/m1", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "LIVE", body["status"])
	assert.Len(t, body["scorers"], 1)
	assert.Len(t, body["cards"], 1)

	_, body = env.do(t, http.MethodGet, "/api/v1/live/matches", nil, false)
	assert.EqualValues(t, 1, body["count"])

	resp, body = env.do(t, http.MethodPost, "/api/v1/live/match/m1/card", map[string]any{"player": "X", "side": "home", "color": "blue"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errorCode(body))

	resp, _ = env.do(t, http.MethodPut, "/api/v1/live/match/m1/score", map[string]int{"score_home": 2}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/v1/live/match/ghost/scorer", map[string]any{"player": "X", "side": "home"}, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/live/match/m1", nil, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/v1/live/match/m1", nil, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookAdminAndDelivery(t *testing.T) {
	env := newTestEnv(t, 0)

	received := make(chan notifier.MatchEvent, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev notifier.MatchEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		received <- ev
	}))
	defer hook.Close()

	resp, _ := env.do(t, http.MethodPost, "/api/v1/webhooks", map[string]string{"url": hook.URL}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/v1/webhooks", map[string]string{"url": "ftp://example.com"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_URL", errorCode(body))

	resp, body = env.do(t, http.MethodPost, "/api/v1/webhooks", map[string]string{"url": hook.URL}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["id"].(string)
	assert.Equal(t, webhook.SubscriptionID(hook.URL), id)

	_, body = env.do(t, http.MethodGet, "/api/v1/webhooks", nil, true)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = env.do(t, http.MethodPut, "/api/v1/live/match/m9/score", map[string]int{"score_home": 1, "score_away": 1}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	select {
	case ev := <-received:
		assert.Equal(t, notifier.EventScoreUpdated, ev.Type)
		assert.Equal(t, "m9", ev.MatchKey)
	default:
		t.Fatal("webhook not called before the write returned")
	}

	resp, body = env.do(t, http.MethodPatch, "/api/v1/webhooks/"+id, map[string]bool{"active": false}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["active"])
	resp, _ = env.do(t, http.MethodPut, "/api/v1/live/match/m9/score", map[string]int{"score_home": 2, "score_away": 1}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, received, "paused webhook must not be called")

	resp, body = env.do(t, http.MethodPatch, "/api/v1/webhooks/"+id, map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errorCode(body))
	resp, _ = env.do(t, http.MethodPatch, "/api/v1/webhooks/ffffffff", map[string]bool{"active": true}, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/webhooks/"+id, nil, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = env.do(t, http.MethodDelete, "/api/v1/webhooks/"+id, nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestLiveImport(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/live/import/elite-hommes", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/v1/live/import/nope", nil, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	resp, body = env.do(t, http.MethodPost, "/api/v1/live/import/broken", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", errorCode(body))

	resp, _ = env.do(t, http.MethodPut, "/api/v1/live/match/101/score", map[string]int{"score_home": 1, "score_away": 0}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/v1/live/import/elite-hommes", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["imported_count"])
	assert.EqualValues(t, 1, body["skipped_duplicates"])

	_, body = env.do(t, http.MethodGet, "/api/v1/live/match/101", nil, false)
	assert.EqualValues(t, 1, body["score_home"], "existing match keeps its state")
	_, body = env.do(t, http.MethodGet, "/api/v1/live/match/102", nil, false)
	assert.Equal(t, "Blanc-Mesnil", body["home"])
	assert.Equal(t, "Montrouge", body["away"])
	assert.Equal(t, "SCHEDULED", body["status"])

	_, body = env.do(t, http.MethodPost, "/api/v1/live/import/elite-hommes", nil, true)
	assert.EqualValues(t, 0, body["imported_count"])
	assert.EqualValues(t, 2, body["skipped_duplicates"])
	assert.Empty(t, env.mail.Sent(), "import never notifies subscribers")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", notifier.ErrInvalidIdentity), http.StatusBadRequest},
		{fmt.Errorf("x: %w", notifier.ErrInvalidURL), http.StatusBadRequest},
		{fmt.Errorf("x: %w", notifier.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("x: %w", notifier.ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("x: %w", notifier.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", notifier.ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("x: %w", notifier.ErrPrimaryStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
