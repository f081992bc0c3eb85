package simulate

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/ranklobby/pkg/logger"
)

// fetchRankings retrieves the rank of every synthetic player.
func (r *Runner) fetchRankings(ctx context.Context, players []Player) map[int64]Rank {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Workers, 1))

	var mu sync.Mutex
	ranks := make(map[int64]Rank, len(players))
	failed := 0
	start := time.Now()
	for _, p := range players {
		g.Go(func() error {
			var rank Rank
			path := fmt.Sprintf("/players/%d/rank?mode=%s", p.ID, url.QueryEscape(string(r.cfg.Mode)))
			err := r.client.getJSON(ctx, path, &rank)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				r.log.Debug(ctx, "rank lookup failed", logger.Int64("player_id", p.ID), logger.Error(err))
				return nil
			}
			ranks[p.ID] = rank
			return nil
		})
	}
	_ = g.Wait()

	r.stats.RankingsRetrieved = len(ranks)
	r.log.Info(ctx, "rankings retrieved",
		logger.Int("retrieved", len(ranks)),
		logger.Int("failed", failed),
		logger.Duration("took", time.Since(start)))
	return ranks
}

// fetchLeaderboard retrieves the top cfg.TopN entries.
func (r *Runner) fetchLeaderboard(ctx context.Context) ([]Entry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(max(r.cfg.TopN, 1)))
	q.Set("mode", string(r.cfg.Mode))

	var entries []Entry
	if err := r.client.getJSON(ctx, "/leaderboard?"+q.Encode(), &entries); err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	r.stats.LeaderboardEntries = len(entries)
	r.log.Info(ctx, "leaderboard retrieved", logger.Int("entries", len(entries)))
	return entries, nil
}
