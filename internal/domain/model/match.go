package model

import "time"

// Observation is one outcome as seen by a single rated entity.
// Score is 1 for a win and 0 for a loss from that entity's side.
type Observation struct {
	ID            int64
	Score         float64
	OpponentMu    float64
	OpponentSigma float64
	Mods          Mods
}

// PlayerScore converts a win flag to a player's observation score.
func PlayerScore(won bool) float64 {
	if won {
		return 1
	}
	return 0
}

// ContentScore converts a player's win flag to the content's score.
func ContentScore(won bool) float64 {
	return 1 - PlayerScore(won)
}

// Result is one participant's line in a match report.
type Result struct {
	PlayerID int64   `json:"player_id"`
	Name     string  `json:"name,omitempty"`
	Score    int64   `json:"score"`
	Accuracy float64 `json:"accuracy"`
	Mods     Mods    `json:"mods"`
	Passed   bool    `json:"passed"`
	// Dodged marks a confirmed participant absent from the upstream report.
	Dodged bool `json:"dodged,omitempty"`
	// OutcomeID is assigned when the score row is stored.
	OutcomeID int64 `json:"-"`
}

// Won reports whether the player beat the content.
func (r Result) Won() bool { return r.Passed && !r.Dodged }

// MatchReport is the authoritative result of one finished match.
type MatchReport struct {
	GameID     int64     `json:"game_id"`
	LobbyID    string    `json:"lobby_id"`
	ContentID  int64     `json:"content_id"`
	Mode       Mode      `json:"mode"`
	Mods       Mods      `json:"mods"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
}

// TierChange is emitted when a player's announced division changes.
type TierChange struct {
	PlayerID int64  `json:"player_id"`
	Name     string `json:"name"`
	Mode     Mode   `json:"mode"`
	OldTier  string `json:"old_tier"`
	NewTier  string `json:"new_tier"`
	Promoted bool   `json:"promoted"`
}

// ScoreRow is a stored result line, ordered by its ID.
type ScoreRow struct {
	ID        int64
	GameID    int64
	PlayerID  int64
	ContentID int64
	Mode      Mode
	Won       bool
	Mods      Mods
}

// Observation returns the row as seen by the entity of kind.
func (s ScoreRow) Observation(kind Kind, opponent Rating) Observation {
	score := PlayerScore(s.Won)
	if kind == KindContent {
		score = ContentScore(s.Won)
	}
	return Observation{
		ID:            s.ID,
		Score:         score,
		OpponentMu:    opponent.CurrentMu,
		OpponentSigma: opponent.CurrentSigma,
		Mods:          s.Mods,
	}
}

// OpponentKey is the rating the entity of kind played against in this row.
func (s ScoreRow) OpponentKey(kind Kind) RatingKey {
	if kind == KindContent {
		return RatingKey{Kind: KindPlayer, ID: s.PlayerID, Mode: s.Mode}
	}
	return RatingKey{Kind: KindContent, ID: s.ContentID, Mode: s.Mode}
}
