// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Flat koanf keys so env vars map one-to-one (RANKLOBBY_QUEUE_SIZE -> queue_size).
// - New(ctx) returns a Config populated with defaults.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// RatingStore selects the rating row backend: sqlite or redis.
	RatingStore string `koanf:"rating_store"`
	// SQLitePath is the catalog and rating database file.
	SQLitePath string `koanf:"sqlite_path"`
	// RedisAddr is used when RatingStore is redis.
	RedisAddr string `koanf:"redis_addr"`

	// MetadataURL and ReportURL are the upstream HTTP endpoints.
	MetadataURL       string `koanf:"metadata_url"`
	ReportURL         string `koanf:"report_url"`
	UpstreamTimeoutMS int    `koanf:"upstream_timeout_ms"`

	// QueueSize bounds the match report queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of match report workers.
	WorkerCount int `koanf:"worker_count"`
	// AcquireQueueSize bounds the content acquisition FIFO.
	AcquireQueueSize int `koanf:"acquire_queue_size"`
	// DedupeSize caps the number of remembered game ids.
	DedupeSize int `koanf:"dedupe_size"`

	LobbyCapacity      int     `koanf:"lobby_capacity"`
	MaxOwnedLobbies    int     `koanf:"max_owned_lobbies"`
	RecentWindow       int     `koanf:"recent_window"`
	BucketSize         int     `koanf:"bucket_size"`
	MaxDraws           int     `koanf:"max_draws"`
	DifficultyModifier float64 `koanf:"difficulty_modifier"`

	CountdownInitialMS    int  `koanf:"countdown_initial_ms"`
	CountdownFinalMS      int  `koanf:"countdown_final_ms"`
	ReadyNoticeCooldownMS int  `koanf:"ready_notice_cooldown_ms"`
	AFKDelayMS            int  `koanf:"afk_delay_ms"`
	ReportAttempts        int  `koanf:"report_attempts"`
	ReportDelayMS         int  `koanf:"report_delay_ms"`
	JoinDeadlineMS        int  `koanf:"join_deadline_ms"`
	KeepKickVotes         bool `koanf:"keep_kick_votes"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// Tiers overrides the division names, lowest first.
	Tiers []string `koanf:"tiers"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		RatingStore:           "sqlite",
		SQLitePath:            "ranklobby.db",
		RedisAddr:             "localhost:6379",
		UpstreamTimeoutMS:     10_000,
		QueueSize:             1_024,
		WorkerCount:           runtime.NumCPU(),
		AcquireQueueSize:      4_096,
		DedupeSize:            100_000,
		LobbyCapacity:         16,
		MaxOwnedLobbies:       4,
		RecentWindow:          25,
		BucketSize:            1_000,
		MaxDraws:              10,
		DifficultyModifier:    1.1,
		CountdownInitialMS:    20_000,
		CountdownFinalMS:      10_000,
		ReadyNoticeCooldownMS: 10_000,
		AFKDelayMS:            30_000,
		ReportAttempts:        5,
		ReportDelayMS:         2_000,
		JoinDeadlineMS:        30_000,
		KeepKickVotes:         true,
		MaxLeaderboardLimit:   100,
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.RatingStore != "sqlite" && c.RatingStore != "redis":
		return fmt.Errorf("%w: %q", ErrUnknownStore, c.RatingStore)
	case c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path must not be empty", ErrInvalidConfig)
	case c.LobbyCapacity < 2:
		return fmt.Errorf("%w: lobby_capacity must be at least 2", ErrInvalidConfig)
	case c.RecentWindow < 1 || c.BucketSize < 1 || c.MaxDraws < 1:
		return fmt.Errorf("%w: recent_window, bucket_size and max_draws must be positive", ErrInvalidConfig)
	case c.DifficultyModifier <= 0:
		return fmt.Errorf("%w: difficulty_modifier must be positive", ErrInvalidConfig)
	case c.ReportAttempts < 1:
		return fmt.Errorf("%w: report_attempts must be positive", ErrInvalidConfig)
	}
	return nil
}

// Millis converts one of the *_ms fields to a duration.
func Millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
