// Package feed fetches contest lists from the FFH (French field-hockey
// federation) REST API and normalizes them into notifier.ContestRecord.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"hockey-notifier/pkg/notifier"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public FFH championship API.
const DefaultBaseURL = "https://championnats.ffhockey.org"

const listPath = "/rest2/Championnats/ListerRencontres"

// Client is a rate-limited FFH API client.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string
	season     string
}

// New creates an FFH client allowing requestsPerMinute upstream calls.
func New(baseURL, season string, requestsPerMinute int, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 3),
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		season:     season,
	}
}

// flexString accepts JSON strings, numbers and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type team struct {
	EquipeNom flexString `json:"EquipeNom"`
}

type rencontre struct {
	RencID        flexString `json:"RencId"`
	RencDateDerog flexString `json:"RencDateDerog"`
	RencNonJoue   flexString `json:"RencNonJoue"`
	Equipe1       team       `json:"Equipe1"`
	Equipe2       team       `json:"Equipe2"`
	Poule         struct {
		PouleLib flexString `json:"PouleLib"`
	} `json:"Poule"`
	Scores struct {
		RencButsEqp1         flexString `json:"RencButsEqp1"`
		RencButsEqp2         flexString `json:"RencButsEqp2"`
		RencScoresSaisieDate flexString `json:"RencScoresSaisieDate"`
	} `json:"Scores"`
}

type listResponse struct {
	ResponseCode    flexString `json:"ResponseCode"`
	ResponseMessage flexString `json:"ResponseMessage"`
	Response        struct {
		// The API sends an object keyed by id, or [] when there are no matches.
		RencontresArray json.RawMessage `json:"RencontresArray"`
	} `json:"Response"`
}

// Fetch returns the contests of one source, sorted by date. Every failure
// wraps notifier.ErrUpstreamUnavailable.
func (c *Client) Fetch(ctx context.Context, src notifier.Source) ([]notifier.ContestRecord, error) {
	params := url.Values{}
	params.Set("SaisonAnnee", c.season)
	if src.ManifID != "" {
		params.Set("ManifId", src.ManifID)
	}
	if src.PouleID != "" {
		params.Set("PouleId", src.PouleID)
	}

	var body []byte
	err := retry.Do(
		func() error {
			var err error
			body, err = c.get(ctx, params)
			return err
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying upstream fetch after error", "source", src.ID, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", src.ID, notifier.ErrUpstreamUnavailable, err)
	}

	records, err := parse(body, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", src.ID, notifier.ErrUpstreamUnavailable, err)
	}
	c.logger.Debug("Upstream contests fetched", "source", src.ID, "count", len(records))
	return records, nil
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("rate limit wait: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+listPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("FFH returned %d: %s", resp.StatusCode, truncate(body, 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Unrecoverable(statusErr)
		}
		return nil, statusErr
	}
	return body, nil
}

// parse decodes a ListerRencontres payload and applies the source filters.
func parse(body []byte, src notifier.Source) ([]notifier.ContestRecord, error) {
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.ResponseCode != "200" {
		return nil, fmt.Errorf("api response code %q: %s", resp.ResponseCode, resp.ResponseMessage)
	}

	raw := bytes.TrimSpace(resp.Response.RencontresArray)
	if len(raw) == 0 || raw[0] != '{' {
		return []notifier.ContestRecord{}, nil
	}
	var matches map[string]rencontre
	if err := json.Unmarshal(raw, &matches); err != nil {
		return nil, fmt.Errorf("decode rencontres: %w", err)
	}

	teamFilter := strings.ToUpper(src.TeamFilter)
	records := make([]notifier.ContestRecord, 0, len(matches))
	for _, m := range matches {
		if src.PouleLabel != "" && string(m.Poule.PouleLib) != src.PouleLabel {
			continue
		}
		home, away := string(m.Equipe1.EquipeNom), string(m.Equipe2.EquipeNom)
		if teamFilter != "" && !strings.Contains(strings.ToUpper(home), teamFilter) && !strings.Contains(strings.ToUpper(away), teamFilter) {
			continue
		}
		records = append(records, notifier.ContestRecord{
			UpstreamID: strings.TrimSpace(string(m.RencID)),
			Date:       string(m.RencDateDerog),
			Home:       home,
			Away:       away,
			HomeScore:  parseScore(m.Scores.RencButsEqp1),
			AwayScore:  parseScore(m.Scores.RencButsEqp2),
			Status:     status(m),
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		return records[i].UpstreamID < records[j].UpstreamID
	})
	return records, nil
}

func status(m rencontre) notifier.ContestStatus {
	switch {
	case m.Scores.RencScoresSaisieDate != "":
		return notifier.StatusFinished
	case m.RencNonJoue == "O":
		return notifier.StatusNotPlayed
	default:
		return notifier.StatusScheduled
	}
}

func parseScore(s flexString) *int {
	v, err := strconv.Atoi(strings.TrimSpace(string(s)))
	if err != nil {
		return nil
	}
	return &v
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
