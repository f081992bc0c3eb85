package service

import (
	"time"

	"github.com/okian/ranklobby/internal/adapters/upstream"
	"github.com/okian/ranklobby/internal/domain/division"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/router"
	"github.com/okian/ranklobby/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of match report workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the match report queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many game ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithAcquireQueueSize sets the capacity of the content acquisition FIFO.
func WithAcquireQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.acquireQueueSize = size
		}
	}
}

// WithUpstream sets the metadata and report sources.
func WithUpstream(md upstream.MetadataSource, rs upstream.ReportSource) Option {
	return func(s *Service) {
		s.metadata = md
		s.reports = rs
	}
}

// WithReportRetry sets how often and how fast a match report is polled.
func WithReportRetry(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.reportAttempts = attempts
		}
		if delay >= 0 {
			s.reportDelay = delay
		}
	}
}

// WithPool sets the candidate bucket size and the draw limit.
func WithPool(bucketSize, maxDraws int) Option {
	return func(s *Service) {
		if bucketSize > 0 {
			s.bucketSize = bucketSize
		}
		if maxDraws > 0 {
			s.maxDraws = maxDraws
		}
	}
}

// WithSkillBlend sets how far one passed match moves a player's skill
// profile towards the content's profile.
func WithSkillBlend(w float64) Option {
	return func(s *Service) {
		if w > 0 && w <= 1 {
			s.skillBlend = w
		}
	}
}

// WithDefaultMode sets the mode of lobbies the service spawns.
func WithDefaultMode(m model.Mode) Option {
	return func(s *Service) { s.defaultMode = m }
}

// WithTiers replaces the division table.
func WithTiers(t *division.Table) Option {
	return func(s *Service) {
		if t != nil {
			s.tiers = t
		}
	}
}

// WithLobbyConfig sets the tunables of every lobby.
func WithLobbyConfig(c lobby.Config) Option {
	return func(s *Service) { s.lobbyConfig = c }
}

// WithRouterOptions passes options to the matchmaking router.
func WithRouterOptions(opts ...router.Option) Option {
	return func(s *Service) { s.routerOpts = append(s.routerOpts, opts...) }
}

// WithPublisher sets where snapshots, tier changes and session commands go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.pub = p
		}
	}
}

// WithSessionFactory sets how owned lobbies open game sessions.
func WithSessionFactory(f lobby.Factory) Option {
	return func(s *Service) { s.factory = f }
}

// WithFatal sets the callback for unrecoverable errors such as a session
// protocol desync.
func WithFatal(f func(error)) Option {
	return func(s *Service) { s.fatal = f }
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
