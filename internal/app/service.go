// Package service wires the rating engine, the content pool, the lobbies and
// the match pipeline into the process the HTTP API talks to.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/ranklobby/internal/adapters/mq/queue"
	"github.com/okian/ranklobby/internal/adapters/mq/worker"
	"github.com/okian/ranklobby/internal/adapters/repository"
	"github.com/okian/ranklobby/internal/adapters/upstream"
	"github.com/okian/ranklobby/internal/domain/dedupe"
	"github.com/okian/ranklobby/internal/domain/division"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/pool"
	"github.com/okian/ranklobby/internal/domain/rating"
	"github.com/okian/ranklobby/internal/domain/router"
	"github.com/okian/ranklobby/pkg/logger"
)

// RatingStore persists rating rows. The SQLite and Redis stores implement it.
type RatingStore interface {
	rating.Store
	CreateRating(ctx context.Context, r model.Rating) (bool, error)
	SetTier(ctx context.Context, key model.RatingKey, tier string) error
	ListRatings(ctx context.Context, kind model.Kind, mode model.Mode, fn func(model.Rating) error) error
}

// Catalog holds content, player profiles and match history.
type Catalog interface {
	pool.CandidateSource
	rating.ScoreLog
	RecordGame(ctx context.Context, report model.MatchReport) (model.MatchReport, error)
	LoadGame(ctx context.Context, gameID int64) (model.MatchReport, error)
	GetContent(ctx context.Context, id int64) (model.ContentItem, error)
	HasContent(ctx context.Context, id int64) (bool, error)
	InsertContent(ctx context.Context, item model.ContentItem) error
	MarkUnavailable(ctx context.Context, id int64) error
	PlayerProfile(ctx context.Context, id int64, mode model.Mode) (model.Player, error)
	PutPlayerProfile(ctx context.Context, p model.Player) error
}

// Publisher fans events out to subscribers. *ws.Hub implements it.
type Publisher interface {
	Publish(topic, typ string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

// ErrNotStarted is returned by operations that need Start first.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies and the lobby collaborators.
type Service struct {
	mu sync.RWMutex

	ratings  RatingStore
	catalog  Catalog
	metadata upstream.MetadataSource
	reports  upstream.ReportSource
	pub      Publisher
	factory  lobby.Factory

	// Core components, built by Start.
	engine   *rating.Engine
	ranking  *repository.TreapStore
	index    *pool.Index
	router   *router.Router
	deduper  dedupe.Deduper[int64]
	matches  *queue.InMemoryQueue[matchJob]
	workers  *worker.Pool[matchJob]
	acquirer *acquirer

	// Configuration
	workerCount      int
	queueSize        int
	dedupeSize       int
	acquireQueueSize int
	reportAttempts   int
	reportDelay      time.Duration
	bucketSize       int
	maxDraws         int
	skillBlend       float64
	defaultMode      model.Mode
	tiers            *division.Table
	lobbyConfig      lobby.Config
	routerOpts       []router.Option

	// Lobby bookkeeping
	sessions map[string]*lobby.Lobby
	runCtx   context.Context
	stopRun  context.CancelFunc
	lobbyWG  sync.WaitGroup
	workCtx  context.Context
	stopWork context.CancelFunc

	fatal   func(error)
	started bool
	logger  logger.Logger
}

// New constructs a Service over its stores. metadata and reports may be nil
// in which case availability checks and report polling are disabled.
func New(ratings RatingStore, catalog Catalog, opts ...Option) *Service {
	s := &Service{
		ratings:          ratings,
		catalog:          catalog,
		pub:              nopPublisher{},
		workerCount:      runtime.NumCPU(),
		queueSize:        1024,
		dedupeSize:       100_000,
		acquireQueueSize: 4096,
		reportAttempts:   5,
		reportDelay:      2 * time.Second,
		bucketSize:       1000,
		maxDraws:         10,
		skillBlend:       0.25,
		defaultMode:      model.ModeOsu,
		tiers:            division.MustDefault(),
		lobbyConfig:      lobby.DefaultConfig(),
		sessions:         make(map[string]*lobby.Lobby),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.fatal == nil {
		s.fatal = func(err error) { s.logger.Error(context.Background(), "fatal error", logger.Error(err)) }
	}
	return s
}

// Start builds the engines, loads the ranking and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting ranklobby service...")

	s.engine = rating.NewEngine(s.ratings, rating.WithLogger(s.logger.Named("rating")))
	s.ranking = repository.NewTreapStore(ctx)
	if err := s.loadRanking(ctx); err != nil {
		_ = s.ranking.Close()
		return fmt.Errorf("load ranking: %w", err)
	}
	s.index = pool.NewIndex(s.catalog,
		pool.WithBucketSize(s.bucketSize),
		pool.WithMaxDraws(s.maxDraws),
		pool.WithLogger(s.logger.Named("pool")))
	s.router = router.New(append([]router.Option{
		router.WithDifficultyModifier(s.lobbyConfig.DifficultyModifier),
		router.WithLogger(s.logger.Named("router")),
	}, s.routerOpts...)...)
	s.deduper = dedupe.NewInMemoryDeduper[int64](dedupe.WithMaxSize(s.dedupeSize))

	// Workers outlive ctx so queued reports drain on Stop.
	s.workCtx, s.stopWork = context.WithCancel(context.WithoutCancel(ctx))
	s.matches = queue.NewInMemoryQueue[matchJob](queue.WithCapacity(s.queueSize), queue.WithName("matches"))
	s.workers = worker.NewPool[matchJob](s.workerCount, s.matches, worker.HandlerFunc[matchJob](s.handleMatch),
		worker.WithName("matches"), worker.WithLogger(s.logger))
	s.workers.Start(s.workCtx)

	if s.metadata != nil {
		s.acquirer = newAcquirer(s, s.acquireQueueSize)
		s.acquirer.start(s.workCtx)
	}

	s.runCtx, s.stopRun = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	s.logger.Info(ctx, "ranklobby service started",
		logger.Int("workers", s.workers.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// loadRanking seeds the percentile index from stored player ratings.
func (s *Service) loadRanking(ctx context.Context) error {
	for _, mode := range model.Modes {
		type entry struct {
			id  int64
			elo float64
		}
		var rows []entry
		err := s.ratings.ListRatings(ctx, model.KindPlayer, mode, func(r model.Rating) error {
			rows = append(rows, entry{id: r.Key.ID, elo: r.Elo()})
			return nil
		})
		if err != nil {
			return err
		}
		for _, e := range rows {
			if err := s.ranking.Set(ctx, mode, e.id, e.elo); err != nil {
				return err
			}
		}
		s.logger.Info(ctx, "ranking loaded", logger.String("mode", string(mode)), logger.Int("players", len(rows)))
	}
	return nil
}

// Stop closes every lobby, drains the queues and stops the workers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping ranklobby service...")
	s.stopRun()
	s.lobbyWG.Wait()

	var errs []error
	if err := s.workers.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.acquirer != nil {
		if err := s.acquirer.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.stopWork()
	if err := s.ranking.Close(); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info(ctx, "ranklobby service stopped")
	return errors.Join(errs...)
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"lobbies":     len(s.sessions),
	}
	if s.started {
		stats["queueLength"] = s.matches.Len(ctx)
		stats["seenGames"] = s.deduper.Size()
		stats["ownedLobbies"] = s.router.Owned()
		ranked := make(map[string]int, len(model.Modes))
		for _, m := range model.Modes {
			ranked[string(m)] = s.ranking.Count(ctx, m)
		}
		stats["rankedPlayers"] = ranked
		if s.acquirer != nil {
			stats["acquireQueueLength"] = s.acquirer.queue.Len(ctx)
		}
	}
	return stats
}
