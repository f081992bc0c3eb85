package lobby

import (
	"fmt"
	"math"

	"github.com/okian/ranklobby/internal/domain/model"
)

// State is the lifecycle stage of a lobby.
type State int

const (
	StateIdle State = iota
	StateAwaitingReady
	StateCountdownArmed
	StatePlaying
	StateResolving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateCountdownArmed:
		return "countdown_armed"
	case StatePlaying:
		return "playing"
	case StateResolving:
		return "resolving"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ContentRef is the public view of the current content.
type ContentRef struct {
	ID    int64   `json:"id"`
	SetID int64   `json:"set_id"`
	Name  string  `json:"name"`
	Stars float64 `json:"stars"`
}

// Snapshot is the read-only view other goroutines see.
type Snapshot struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	Name         string            `json:"name"`
	Mode         model.Mode        `json:"mode"`
	Occupancy    int               `json:"occupancy"`
	Capacity     int               `json:"capacity"`
	State        string            `json:"state"`
	MinStars     float64           `json:"min_stars"`
	MaxStars     float64           `json:"max_stars"`
	FixedStars   bool              `json:"fixed_stars"`
	Aggregate    model.SkillVector `json:"aggregate"`
	AggregateElo float64           `json:"aggregate_elo"`
	Content      *ContentRef       `json:"current_content,omitempty"`
	Owned        bool              `json:"owned"`
	CreatorID    int64             `json:"creator_id,omitempty"`
	Players      []string          `json:"players"`
}

// Closed reports a lobby that will not accept players anymore.
func (s Snapshot) Closed() bool { return s.State == StateClosed.String() }

// Free is the number of open slots.
func (s Snapshot) Free() int { return max(0, s.Capacity-s.Occupancy) }

// InRange reports whether scaled stars fall inside the star range.
func (s Snapshot) InRange(stars float64) bool {
	return stars >= s.MinStars && stars <= s.MaxStars
}

// Title renders the lobby name shown in game, e.g. "4-5.99* DT | ranked".
func Title(minStars, maxStars float64, mods model.Mods, suffix string) string {
	lo := fmt.Sprintf("%.1f", minStars)
	if minStars == math.Floor(minStars) {
		lo = fmt.Sprintf("%.0f", minStars)
	}
	hi := fmt.Sprintf("%.1f", maxStars)
	if maxStars == math.Floor(maxStars) {
		hi = fmt.Sprintf("%.2f", maxStars-0.01)
	}
	var tags string
	if model.ModSetFor(mods) == model.ModSetDoubleTime {
		tags = " DT"
	}
	return fmt.Sprintf("%s-%s*%s | %s", lo, hi, tags, suffix)
}
