package lobby

import (
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
)

// Event is anything a lobby's mailbox accepts.
type Event interface{ event() }

// Joined confirms a player is in the session.
type Joined struct{ Player model.Player }

// Left reports a player leaving, kicked players included.
type Left struct{ PlayerID int64 }

// JoinNotice is the raw "player joined" line seen before the session layer
// confirms it with Joined.
type JoinNotice struct {
	PlayerID int64
	Name     string
}

// AllReady is sent when every participant readied up.
type AllReady struct{}

// MatchStarted is sent once the game server started the match.
type MatchStarted struct{}

// MatchFinished carries the partial scores the session saw.
type MatchFinished struct{ Scores map[int64]int64 }

// InMatchScore is a score update received while playing.
type InMatchScore struct {
	PlayerID int64
	Score    int64
}

// Command is a chat line starting with '!'.
type Command struct {
	PlayerID int64
	Text     string
}

// Close shuts the lobby down.
type Close struct{ Reason string }

type timerFired struct {
	kind   timerKind
	gen    uint64
	player int64
}

type reportDone struct {
	contentID int64
	changes   []model.TierChange
	err       error
	took      time.Duration
}

type availabilityChecked struct {
	contentID int64
	available bool
	info      string
	err       error
}

func (Joined) event()              {}
func (Left) event()                {}
func (JoinNotice) event()          {}
func (AllReady) event()            {}
func (MatchStarted) event()        {}
func (MatchFinished) event()       {}
func (InMatchScore) event()        {}
func (Command) event()             {}
func (Close) event()               {}
func (timerFired) event()          {}
func (reportDone) event()          {}
func (availabilityChecked) event() {}
