// Package simulate drives a running service with synthetic match reports and
// checks that the resulting ratings order players by their hidden skill.
package simulate

import (
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL         string        // Base URL of the service
	Mode            model.Mode    // Ruleset the reports are played in
	Players         int           // Number of synthetic players
	Content         int           // Number of synthetic content items
	Matches         int           // Number of match reports to submit
	PlayersPerMatch int           // Participants per match
	FirstPlayerID   int64         // Synthetic ids start here to stay clear of real ones
	FirstContentID  int64         // Synthetic content ids start here
	FirstGameID     int64         // Synthetic game ids start here
	Seed            uint64        // Seed of the scenario generator
	Workers         int           // Concurrent HTTP workers
	MaxTries        int           // Attempts per report on backpressure
	Timeout         time.Duration // HTTP request timeout
	SettleTimeout   time.Duration // How long to wait for the match queue to drain
	PollInterval    time.Duration // Stats polling interval while settling
	TopN            int           // Leaderboard entries to fetch
	MinCorrelation  float64       // Fail below this skill/elo rank correlation; 0 disables
	OutputFile      string        // Optional file the generated reports are written to
}

// DefaultConfig returns a small scenario against a local service.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "http://localhost:9080",
		Mode:            model.ModeOsu,
		Players:         200,
		Content:         50,
		Matches:         2_000,
		PlayersPerMatch: 4,
		FirstPlayerID:   9_000_000,
		FirstContentID:  9_000_000,
		FirstGameID:     9_000_000,
		Seed:            42,
		Workers:         8,
		MaxTries:        8,
		Timeout:         10 * time.Second,
		SettleTimeout:   2 * time.Minute,
		PollInterval:    250 * time.Millisecond,
		TopN:            50,
	}
}

// Player is a synthetic participant with a hidden true skill.
type Player struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Skill float64 `json:"skill"`
}

// Content is a synthetic item with a hidden difficulty.
type Content struct {
	ID         int64   `json:"id"`
	Difficulty float64 `json:"difficulty"`
}

// Scenario is everything one run submits.
type Scenario struct {
	Players []Player            `json:"players"`
	Content []Content           `json:"content"`
	Reports []model.MatchReport `json:"reports"`
}

// Rank mirrors GET /players/{id}/rank.
type Rank struct {
	PlayerID int64   `json:"player_id"`
	Tier     string  `json:"tier"`
	Elo      float64 `json:"elo"`
	Rank     int     `json:"rank"`
	Games    int64   `json:"games"`
}

// Entry mirrors one GET /leaderboard row.
type Entry struct {
	Rank     int     `json:"rank"`
	PlayerID int64   `json:"player_id"`
	Elo      float64 `json:"elo"`
}

// AckResponse represents the response from report submission
type AckResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Stats holds run statistics
type Stats struct {
	ReportsGenerated   int
	ReportsSubmitted   int
	ReportsAccepted    int
	ReportsDuplicate   int
	ReportsRetried     int
	ReportsFailed      int
	RankingsRetrieved  int
	LeaderboardEntries int
	Correlation        float64
	Tiers              map[string]int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
