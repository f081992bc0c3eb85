package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/okian/ranklobby/internal/adapters/http/api"
	"github.com/okian/ranklobby/internal/adapters/http/swagger"
	"github.com/okian/ranklobby/internal/adapters/redisstore"
	"github.com/okian/ranklobby/internal/adapters/session"
	"github.com/okian/ranklobby/internal/adapters/sqlite"
	"github.com/okian/ranklobby/internal/adapters/upstream"
	"github.com/okian/ranklobby/internal/adapters/ws"
	app "github.com/okian/ranklobby/internal/app"
	"github.com/okian/ranklobby/internal/config"
	"github.com/okian/ranklobby/internal/domain/division"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/router"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "ranklobby stopped with error", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

// stores bundles the persistence backends selected by config.
type stores struct {
	catalog *sqlite.Store
	ratings app.RatingStore
	redis   *redisstore.Store
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	catalog, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	st := &stores{catalog: catalog, ratings: catalog}
	if cfg.RatingStore == "redis" {
		rs := redisstore.New(cfg.RedisAddr, "")
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			_ = catalog.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		st.ratings, st.redis = rs, rs
	}
	return st, nil
}

// Ping implements api.Pinger over every open backend.
func (s *stores) Ping(ctx context.Context) error {
	if err := s.catalog.Ping(ctx); err != nil {
		return err
	}
	if s.redis != nil {
		return s.redis.Ping(ctx)
	}
	return nil
}

func (s *stores) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.catalog.Close())
	return errors.Join(errs...)
}

// lobbyConfig maps the flat config onto lobby tunables.
func lobbyConfig(cfg *config.Config) lobby.Config {
	lc := lobby.DefaultConfig()
	lc.Capacity = cfg.LobbyCapacity
	lc.RecentWindow = cfg.RecentWindow
	lc.DifficultyModifier = cfg.DifficultyModifier
	lc.CountdownInitial = config.Millis(cfg.CountdownInitialMS)
	lc.CountdownFinal = config.Millis(cfg.CountdownFinalMS)
	lc.ReadyNoticeCooldown = config.Millis(cfg.ReadyNoticeCooldownMS)
	lc.AFKDelay = config.Millis(cfg.AFKDelayMS)
	lc.JoinDeadline = config.Millis(cfg.JoinDeadlineMS)
	lc.KeepKickVotes = cfg.KeepKickVotes
	return lc
}

// newService wires the service over st. fatal is called for unrecoverable
// lobby errors.
func newService(cfg *config.Config, st *stores, hub *ws.Hub, log logger.Logger, fatal func(error)) (*app.Service, error) {
	opts := []app.Option{
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithAcquireQueueSize(cfg.AcquireQueueSize),
		app.WithReportRetry(cfg.ReportAttempts, config.Millis(cfg.ReportDelayMS)),
		app.WithPool(cfg.BucketSize, cfg.MaxDraws),
		app.WithLobbyConfig(lobbyConfig(cfg)),
		app.WithRouterOptions(router.WithMaxOwned(cfg.MaxOwnedLobbies)),
		app.WithPublisher(hub),
		app.WithSessionFactory(session.NewFactory(hub)),
		app.WithFatal(fatal),
	}
	if len(cfg.Tiers) > 0 {
		tiers, err := division.NewTable(cfg.Tiers)
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithTiers(tiers))
	}

	var (
		md upstream.MetadataSource
		rs upstream.ReportSource
	)
	client := upstream.NewClient(cfg.MetadataURL, cfg.ReportURL, config.Millis(cfg.UpstreamTimeoutMS), nil)
	if cfg.MetadataURL != "" {
		md = client
	}
	if cfg.ReportURL != "" {
		rs = client
	}
	opts = append(opts, app.WithUpstream(md, rs))
	return app.New(st.ratings, st.catalog, opts...), nil
}

// newHandler builds the HTTP route tree.
func newHandler(cfg *config.Config, svc *app.Service, st *stores, hub *ws.Hub) http.Handler {
	return api.NewServer(svc, model.ModeOsu, cfg.MaxLeaderboardLimit,
		api.WithStream(hub),
		api.WithPinger(st),
		api.WithDocs(swagger.Register),
	).Handler()
}

// run serves until ctx ends or a lobby reports a fatal error.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error(ctx, "closing stores failed", logger.Error(err))
		}
	}()

	hub := ws.NewHub(ws.WithLogger(log.Named("ws")))
	defer hub.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var fatal fatalCause
	svc, err := newService(cfg, st, hub, log, func(err error) {
		if fatal.set(err) {
			log.Error(ctx, "fatal lobby error, shutting down", logger.Error(err))
		}
		cancel(err)
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(cfg, svc, st, hub),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := svc.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("service stop: %w", err))
		}
		log.Info(ctx, "server stopped")
		return errors.Join(errs...)
	})

	err = g.Wait()
	if cause := fatal.err(); cause != nil {
		return errors.Join(cause, err)
	}
	return err
}

// fatalCause keeps the first unrecoverable lobby error. Any other end of the
// run context is a normal shutdown.
type fatalCause struct {
	p atomic.Pointer[error]
}

func (f *fatalCause) set(err error) bool {
	if err == nil {
		return false
	}
	return f.p.CompareAndSwap(nil, &err)
}

func (f *fatalCause) err() error {
	if p := f.p.Load(); p != nil {
		return *p
	}
	return nil
}

// startSystemMetricsUpdater refreshes runtime gauges until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
