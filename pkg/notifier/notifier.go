// Package notifier contains the core domain types for the hockey match notification service.
package notifier

import "time"

// ContestStatus is the lifecycle state reported by an upstream feed.
type ContestStatus string

// Contest statuses. Only StatusFinished triggers notifications.
const (
	StatusScheduled ContestStatus = "SCHEDULED"
	StatusFinished  ContestStatus = "FINISHED"
	StatusNotPlayed ContestStatus = "NOT_PLAYED"
)

// ContestRecord is one contest as normalized by the upstream fetcher.
type ContestRecord struct {
	HomeScore  *int          `json:"score_home"` // nil until played
	AwayScore  *int          `json:"score_away"`
	UpstreamID string        `json:"id_match,omitempty"`
	Date       string        `json:"date"`
	Home       string        `json:"home"`
	Away       string        `json:"away"`
	Status     ContestStatus `json:"status"`
}

// Source is one independent upstream feed, typically one competition or pool.
type Source struct {
	ID         string `json:"id"`                    // Stable identifier, used as fingerprint prefix
	Label      string `json:"label"`                 // Human readable competition name
	ManifID    string `json:"manif_id,omitempty"`    // Upstream competition id
	PouleID    string `json:"poule_id,omitempty"`    // Upstream pool id
	PouleLabel string `json:"poule_label,omitempty"` // Keep only records from this pool
	TeamFilter string `json:"team_filter,omitempty"` // Keep only records involving this team
}

// LiveStatus is the state of a live match document.
type LiveStatus string

// Live match states.
const (
	LiveScheduled LiveStatus = "SCHEDULED"
	LiveInPlay    LiveStatus = "LIVE"
	LiveFinished  LiveStatus = "FINISHED"
)

// Valid reports whether s is a known live status.
func (s LiveStatus) Valid() bool {
	switch s {
	case LiveScheduled, LiveInPlay, LiveFinished:
		return true
	default:
		return false
	}
}

// Side identifies which team an event belongs to.
type Side string

// Sides.
const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Valid reports whether s is home or away.
func (s Side) Valid() bool {
	return s == SideHome || s == SideAway
}

// CardColor is the color of a disciplinary card (field hockey uses green, yellow and red).
type CardColor string

// Card colors.
const (
	CardGreen  CardColor = "green"
	CardYellow CardColor = "yellow"
	CardRed    CardColor = "red"
)

// Valid reports whether c is a known card color.
func (c CardColor) Valid() bool {
	switch c {
	case CardGreen, CardYellow, CardRed:
		return true
	default:
		return false
	}
}

// Scorer is a goal event.
type Scorer struct {
	Player string `json:"player"`
	Side   Side   `json:"side"`
	Minute int    `json:"minute"`
}

// Card is a disciplinary event.
type Card struct {
	Player string    `json:"player"`
	Side   Side      `json:"side"`
	Color  CardColor `json:"color"`
	Minute int       `json:"minute"`
}

// LiveMatch is the mutable live state of one match.
type LiveMatch struct {
	LastUpdated time.Time  `json:"last_updated"`
	Key         string     `json:"key"`
	Home        string     `json:"home,omitempty"`
	Away        string     `json:"away,omitempty"`
	Date        string     `json:"date,omitempty"`
	Status      LiveStatus `json:"status"`
	Scorers     []Scorer   `json:"scorers"`
	Cards       []Card     `json:"cards"`
	ScoreHome   int        `json:"score_home"`
	ScoreAway   int        `json:"score_away"`
}

// NewLiveMatch returns a freshly initialized document: scheduled, 0-0, no events.
func NewLiveMatch(key string, now time.Time) *LiveMatch {
	return &LiveMatch{
		Key:         key,
		Status:      LiveScheduled,
		Scorers:     []Scorer{},
		Cards:       []Card{},
		LastUpdated: now,
	}
}

// Clone returns a deep copy so callers never share slices with a backend.
func (m *LiveMatch) Clone() *LiveMatch {
	c := *m
	c.Scorers = append([]Scorer{}, m.Scorers...)
	c.Cards = append([]Card{}, m.Cards...)
	return &c
}

// WebhookSubscription is an externally registered callback URL.
type WebhookSubscription struct {
	RegisteredAt time.Time `json:"registered_at"`
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Active       bool      `json:"active"`
}

// MatchEventType names a live match mutation.
type MatchEventType string

// Live match mutations.
const (
	EventInitialized   MatchEventType = "match.initialized"
	EventScoreUpdated  MatchEventType = "match.score_updated"
	EventScorerAdded   MatchEventType = "match.scorer_added"
	EventCardAdded     MatchEventType = "match.card_added"
	EventStatusChanged MatchEventType = "match.status_changed"
	EventDeleted       MatchEventType = "match.deleted"
)

// MatchEvent is fanned out to webhooks after a successful live match write.
type MatchEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Match     *LiveMatch     `json:"match,omitempty"` // nil for deletions
	Type      MatchEventType `json:"event"`
	MatchKey  string         `json:"match_id"`
	Backend   string         `json:"backend"`
}
