package lobby

import (
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/pool"
	"github.com/okian/ranklobby/pkg/logger"
)

// Default star range of a lobby without a fixed range.
const (
	DefaultMinStars = 0.0
	DefaultMaxStars = 11.0
)

// Settings are the per-lobby choices made at creation.
type Settings struct {
	Name         string
	Mode         model.Mode
	Algorithm    pool.Algorithm
	Mods         model.Mods
	Filters      []pool.Filter
	RankedStates []model.RankedState
	// FixedStars pins the star range to [MinStars, MaxStars].
	FixedStars bool
	MinStars   float64
	MaxStars   float64
	CreatorID  int64
	// Owned lobbies were spawned by the service and count toward its cap.
	Owned bool
}

// Config holds the tunables shared by all lobbies.
type Config struct {
	Capacity            int
	RecentWindow        int
	DifficultyModifier  float64
	CountdownInitial    time.Duration
	CountdownFinal      time.Duration
	ReadyNoticeCooldown time.Duration
	AFKDelay            time.Duration
	JoinDeadline        time.Duration
	KeepKickVotes       bool
	MailboxSize         int
}

// DefaultConfig returns the production values.
func DefaultConfig() Config {
	return Config{
		Capacity:            16,
		RecentWindow:        25,
		DifficultyModifier:  1.1,
		CountdownInitial:    20 * time.Second,
		CountdownFinal:      10 * time.Second,
		ReadyNoticeCooldown: 10 * time.Second,
		AFKDelay:            30 * time.Second,
		JoinDeadline:        30 * time.Second,
		KeepKickVotes:       true,
		MailboxSize:         64,
	}
}

// Option configures a Lobby.
type Option func(*Lobby)

// WithConfig replaces the default tunables.
func WithConfig(c Config) Option {
	return func(l *Lobby) { l.cfg = c }
}

// WithScheduler injects the timer source.
func WithScheduler(s Scheduler) Option {
	return func(l *Lobby) {
		if s != nil {
			l.sched = s
		}
	}
}

// WithLogger sets the lobby logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Lobby) {
		if lg != nil {
			l.log = lg
		}
	}
}

// WithFatal sets the callback receiving unrecoverable errors.
func WithFatal(f func(error)) Option {
	return func(l *Lobby) {
		if f != nil {
			l.fatal = f
		}
	}
}

// WithID overrides the generated lobby id.
func WithID(id string) Option {
	return func(l *Lobby) {
		if id != "" {
			l.id = id
		}
	}
}
