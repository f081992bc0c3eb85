package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/okian/ranklobby/pkg/logger"
)

// Runner executes one simulation against a running service.
type Runner struct {
	cfg    *Config
	client *client
	log    logger.Logger
	stats  *Stats
}

// NewRunner creates a runner. A nil logger uses the global one.
func NewRunner(cfg *Config, log logger.Logger) *Runner {
	if log == nil {
		log = logger.Get()
	}
	return &Runner{
		cfg:    cfg,
		client: newClient(cfg.BaseURL, cfg.Timeout),
		log:    log.Named("simulate"),
		stats:  &Stats{},
	}
}

// Stats returns the statistics of the last run.
func (r *Runner) Stats() Stats { return *r.stats }

// Run generates the scenario, submits it, waits for the service to apply it
// and verifies the resulting ratings.
func (r *Runner) Run(ctx context.Context) error {
	r.stats = &Stats{StartTime: time.Now()}
	defer func() {
		r.stats.EndTime = time.Now()
		r.stats.Duration = r.stats.EndTime.Sub(r.stats.StartTime)
	}()

	r.log.Info(ctx, "starting simulation",
		logger.String("url", r.cfg.BaseURL),
		logger.String("mode", string(r.cfg.Mode)),
		logger.Int("players", r.cfg.Players),
		logger.Int("content", r.cfg.Content),
		logger.Int("matches", r.cfg.Matches),
		logger.Int("workers", r.cfg.Workers))

	if err := r.client.checkServiceHealth(ctx); err != nil {
		return err
	}

	sc := Generate(r.cfg)
	r.stats.ReportsGenerated = len(sc.Reports)
	if r.cfg.OutputFile != "" {
		if err := saveScenario(r.cfg.OutputFile, sc); err != nil {
			r.log.Warn(ctx, "failed to save scenario", logger.Error(err))
		}
	}

	r.submitReports(ctx, sc.Reports)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.waitForDrain(ctx); err != nil {
		return fmt.Errorf("wait for processing: %w", err)
	}

	ranks := r.fetchRankings(ctx, sc.Players)
	entries, err := r.fetchLeaderboard(ctx)
	if err != nil {
		return err
	}
	return r.verify(ctx, sc, ranks, entries)
}

func (r *Runner) verify(ctx context.Context, sc Scenario, ranks map[int64]Rank, entries []Entry) error {
	if err := checkLeaderboard(entries); err != nil {
		return err
	}

	corr, n := skillCorrelation(sc.Players, ranks)
	r.stats.Correlation = corr
	r.stats.Tiers = tierCounts(ranks)
	r.log.Info(ctx, "ratings verified",
		logger.Float64("spearman", corr),
		logger.Int("rated_players", n),
		logger.Any("tiers", r.stats.Tiers))

	if r.cfg.MinCorrelation > 0 && corr < r.cfg.MinCorrelation {
		return fmt.Errorf("%w: spearman %.3f below %.3f", ErrWeakCorrelation, corr, r.cfg.MinCorrelation)
	}
	return nil
}

// LogStats prints the final statistics.
func (r *Runner) LogStats(ctx context.Context) {
	s := r.stats
	r.log.Info(ctx, "simulation finished",
		logger.Duration("duration", s.Duration),
		logger.Int("generated", s.ReportsGenerated),
		logger.Int("accepted", s.ReportsAccepted),
		logger.Int("duplicate", s.ReportsDuplicate),
		logger.Int("failed", s.ReportsFailed),
		logger.Int("rankings", s.RankingsRetrieved),
		logger.Int("leaderboard", s.LeaderboardEntries),
		logger.Float64("spearman", s.Correlation))
}

func saveScenario(path string, sc Scenario) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
