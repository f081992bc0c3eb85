package lobby

import (
	"context"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/pool"
)

// ContentSelector picks the next content item. *pool.Index implements it.
type ContentSelector interface {
	SelectNext(ctx context.Context, req pool.Request) (pool.Selection, error)
}

// ContentGuard checks whether selected content can still be downloaded.
type ContentGuard interface {
	Available(ctx context.Context, contentID int64) (bool, string, error)
	MarkUnavailable(ctx context.Context, contentID int64) error
}

// MatchRequest describes a finished match whose report must be recorded.
type MatchRequest struct {
	LobbyID   string
	SessionID string
	Mode      model.Mode
	ContentID int64
	Mods      model.Mods
	// Confirmed are the players present when the match started, minus
	// players removed by the AFK watchdog.
	Confirmed  []model.Player
	StartedAt  time.Time
	FinishedAt time.Time
}

// ResultRecorder fetches the report of a finished match and applies it to
// ratings. It blocks until the tier changes are known.
type ResultRecorder interface {
	RecordMatch(ctx context.Context, req MatchRequest) ([]model.TierChange, error)
}

// RankInfo answers the !rank command.
type RankInfo struct {
	Tier  string
	Elo   float64
	Rank  int
	Games int64
}

// RankLookup reads a player's standing.
type RankLookup interface {
	Rank(ctx context.Context, playerID int64, mode model.Mode) (RankInfo, error)
}

// Placer suggests another lobby for a player outside this lobby's range.
type Placer interface {
	Suggest(p model.Player, exclude string) (Snapshot, bool)
}

// Detacher removes a closing lobby from placement.
type Detacher interface {
	Detach(id string)
}

// Observer is told about every published snapshot.
type Observer interface {
	LobbyChanged(s Snapshot)
}

// Deps are the collaborators of a lobby. Only Selector is required.
type Deps struct {
	Selector ContentSelector
	Guard    ContentGuard
	Results  ResultRecorder
	Ranks    RankLookup
	Placer   Placer
	Detacher Detacher
	Observer Observer
}
