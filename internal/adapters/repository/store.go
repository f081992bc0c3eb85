// Package repository keeps the in-memory elo ranking used to turn ratings
// into percentiles and leaderboards.
package repository

import (
	"context"

	"github.com/okian/ranklobby/internal/domain/model"
)

// Entry represents a leaderboard row.
type Entry struct {
	Rank     int     `json:"rank"`
	PlayerID int64   `json:"player_id"`
	Elo      float64 `json:"elo"`
}

// Standing is one player's position within a mode.
type Standing struct {
	Rank   int
	Better int
	Total  int
	Elo    float64
}

// Percentile is 1 - better/total; the best player scores 1.
func (s Standing) Percentile() float64 {
	if s.Total == 0 {
		return 0
	}
	return 1 - float64(s.Better)/float64(s.Total)
}

// Ranking provides read/write access to per-mode elo order.
type Ranking interface {
	// Set inserts or moves a player to elo.
	Set(ctx context.Context, mode model.Mode, playerID int64, elo float64) error
	// Standing returns ErrNotFound for unknown players.
	Standing(ctx context.Context, mode model.Mode, playerID int64) (Standing, error)
	// TopN returns the best n players, elo desc then id asc.
	TopN(ctx context.Context, mode model.Mode, n int) ([]Entry, error)
	// Count returns the number of ranked players in mode.
	Count(ctx context.Context, mode model.Mode) int
}
