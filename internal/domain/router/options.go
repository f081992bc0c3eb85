package router

import "github.com/okian/ranklobby/pkg/logger"

type settings struct {
	allowEmpty         bool
	maxOwned           int
	difficultyModifier float64
	logger             logger.Logger
}

func defaultSettings() settings {
	return settings{
		maxOwned:           4,
		difficultyModifier: 1.1,
	}
}

// Option configures a Router.
type Option func(*settings)

// WithAllowEmpty lets Place pick lobbies with nobody in them.
func WithAllowEmpty(v bool) Option {
	return func(s *settings) { s.allowEmpty = v }
}

// WithMaxOwned caps the number of lobbies the service opens itself.
func WithMaxOwned(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxOwned = n
		}
	}
}

// WithDifficultyModifier scales player stars before range checks.
func WithDifficultyModifier(k float64) Option {
	return func(s *settings) {
		if k > 0 {
			s.difficultyModifier = k
		}
	}
}

// WithLogger sets the router logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
