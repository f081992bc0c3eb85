package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/ranklobby/internal/adapters/mq/queue"
	"github.com/okian/ranklobby/internal/adapters/sqlite"
	"github.com/okian/ranklobby/internal/adapters/upstream"
	"github.com/okian/ranklobby/internal/adapters/ws"
	"github.com/okian/ranklobby/internal/domain/division"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
)

// ErrBackpressure is returned when the match queue is full.
var ErrBackpressure = errors.New("match queue full")

type matchOutcome struct {
	changes []model.TierChange
	err     error
}

// matchJob is one report waiting for the rating workers. reply is nil for
// reports nobody waits on.
type matchJob struct {
	report model.MatchReport
	reply  chan matchOutcome
}

// RecordMatch implements lobby.ResultRecorder: it polls the report of the
// finished match, marks dodgers and waits for the rating update.
func (s *Service) RecordMatch(ctx context.Context, req lobby.MatchRequest) ([]model.TierChange, error) {
	if s.reports == nil {
		return nil, errors.New("no report source configured")
	}
	fetch := func(ctx context.Context) (model.MatchReport, error) {
		r, err := s.reports.FetchMatchReport(ctx, req.SessionID)
		if err != nil {
			return r, err
		}
		if r.ContentID != req.ContentID {
			return r, fmt.Errorf("%w: latest report is for content %d, want %d",
				upstream.ErrEmptyReport, r.ContentID, req.ContentID)
		}
		return r, nil
	}
	report, err := upstream.Retry(ctx, s.reportAttempts, s.reportDelay, fetch,
		upstream.ErrTransient, upstream.ErrEmptyReport)
	if err != nil {
		metrics.RecordMatchReport("fetch_failed")
		return nil, fmt.Errorf("fetch report for session %s: %w", req.SessionID, err)
	}

	report = completeReport(report, req)
	reply := make(chan matchOutcome, 1)
	dup, err := s.enqueueReport(ctx, report, reply)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}
	select {
	case out := <-reply:
		return out.changes, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// completeReport fills fields the upstream left empty and adds every
// confirmed participant missing from the results as a dodger.
func completeReport(r model.MatchReport, req lobby.MatchRequest) model.MatchReport {
	if r.LobbyID == "" || r.LobbyID == req.SessionID {
		r.LobbyID = req.LobbyID
	}
	if r.Mode == "" {
		r.Mode = req.Mode
	}
	if r.Mods == nil {
		r.Mods = req.Mods
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = req.StartedAt
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = req.FinishedAt
	}
	seen := make(map[int64]struct{}, len(r.Results))
	for _, res := range r.Results {
		seen[res.PlayerID] = struct{}{}
	}
	r.Results = append([]model.Result(nil), r.Results...)
	for _, p := range req.Confirmed {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		r.Results = append(r.Results, model.Result{PlayerID: p.ID, Name: p.Name, Mods: r.Mods, Dodged: true})
	}
	return r
}

// SubmitReport queues a report without waiting for the result. It reports
// whether the game was already seen.
func (s *Service) SubmitReport(ctx context.Context, report model.MatchReport) (bool, error) {
	return s.enqueueReport(ctx, report, nil)
}

func (s *Service) enqueueReport(ctx context.Context, report model.MatchReport, reply chan matchOutcome) (bool, error) {
	if !s.running() {
		return false, ErrNotStarted
	}
	if s.deduper.SeenAndRecord(ctx, report.GameID) {
		metrics.RecordReportDuplicate()
		s.logger.Debug(ctx, "duplicate match report, skipping", logger.Int64("game_id", report.GameID))
		return true, nil
	}
	if err := s.matches.TryEnqueue(ctx, matchJob{report: report, reply: reply}); err != nil {
		s.deduper.Unrecord(ctx, report.GameID)
		if errors.Is(err, queue.ErrFull) {
			return false, ErrBackpressure
		}
		return false, err
	}
	return false, nil
}

// handleMatch is the match worker handler.
func (s *Service) handleMatch(ctx context.Context, job matchJob) error {
	changes, err := s.processReport(ctx, job.report)
	if err != nil {
		s.deduper.Unrecord(ctx, job.report.GameID)
	}
	if job.reply != nil {
		job.reply <- matchOutcome{changes: changes, err: err}
	}
	return err
}

// processReport stores the game, updates every involved rating and returns
// the tier changes of the players.
func (s *Service) processReport(ctx context.Context, report model.MatchReport) ([]model.TierChange, error) {
	start := time.Now()
	log := s.logger.With(logger.Int64("game_id", report.GameID), logger.Int64("content_id", report.ContentID))

	stored, err := s.catalog.RecordGame(ctx, report)
	switch {
	case errors.Is(err, sqlite.ErrDuplicateGame):
		// The game may come from an attempt that failed half way. Sync only
		// consumes unseen outcomes.
		metrics.RecordReportDuplicate()
		log.Info(ctx, "game already recorded, resuming rating update")
		if stored, err = s.catalog.LoadGame(ctx, report.GameID); err != nil {
			metrics.RecordMatchReport("store_failed")
			return nil, err
		}
		stored.Results = withNames(stored.Results, report.Results)
	case err != nil:
		metrics.RecordMatchReport("store_failed")
		return nil, err
	default:
		s.updateProfiles(ctx, stored)
	}

	contentKey := model.RatingKey{Kind: model.KindContent, ID: report.ContentID, Mode: report.Mode}
	if err := s.ensureContentRating(ctx, contentKey, report.Mods); err != nil {
		metrics.RecordMatchReport("rating_failed")
		return nil, err
	}
	for _, r := range stored.Results {
		key := model.RatingKey{Kind: model.KindPlayer, ID: r.PlayerID, Mode: report.Mode}
		if _, err := s.ratings.CreateRating(ctx, model.NewRating(key)); err != nil {
			metrics.RecordMatchReport("rating_failed")
			return nil, err
		}
	}

	if _, _, err := s.engine.Sync(ctx, contentKey, s.catalog); err != nil {
		metrics.RecordMatchReport("rating_failed")
		return nil, fmt.Errorf("content rating: %w", err)
	}

	var changes []model.TierChange
	for _, r := range stored.Results {
		key := model.RatingKey{Kind: model.KindPlayer, ID: r.PlayerID, Mode: report.Mode}
		updated, _, err := s.engine.Sync(ctx, key, s.catalog)
		if err != nil {
			metrics.RecordMatchReport("rating_failed")
			return changes, fmt.Errorf("player rating: %w", err)
		}
		change, err := s.classify(ctx, updated, r.Name)
		if err != nil {
			return changes, err
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}

	for _, c := range changes {
		s.pub.Publish(ws.TopicTiers, "tier_change", c)
	}
	metrics.RecordMatchReport("processed")
	log.Info(ctx, "match processed",
		logger.Int("results", len(stored.Results)),
		logger.Int("tier_changes", len(changes)),
		logger.Duration("took", time.Since(start)))
	return changes, nil
}

// ensureContentRating creates the content row seeded from its star rating.
// Unknown content is queued for acquisition and starts at the default.
func (s *Service) ensureContentRating(ctx context.Context, key model.RatingKey, mods model.Mods) error {
	seed := model.NewRating(key)
	item, err := s.catalog.GetContent(ctx, key.ID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		if s.acquirer != nil {
			s.acquirer.request(ctx, key.ID)
		}
	case err != nil:
		return err
	default:
		if p, ok := item.Profile(model.ModSetFor(mods)); ok {
			seed.BaseMu = model.ContentMuFromStars(p.Stars)
			seed.CurrentMu = seed.BaseMu
		}
	}
	_, err = s.ratings.CreateRating(ctx, seed)
	return err
}

// classify moves the player in the ranking and returns the tier change, if any.
func (s *Service) classify(ctx context.Context, r model.Rating, name string) (*model.TierChange, error) {
	key := r.Key
	if err := s.ranking.Set(ctx, key.Mode, key.ID, r.Elo()); err != nil {
		return nil, fmt.Errorf("rank %s: %w", key, err)
	}
	st, err := s.ranking.Standing(ctx, key.Mode, key.ID)
	if err != nil {
		return nil, fmt.Errorf("standing %s: %w", key, err)
	}

	old := r.Tier
	if old == "" {
		old = division.Unranked
	}
	tier := s.tiers.Classify(st.Percentile(), r.Observations)
	if tier == old {
		return nil, nil
	}
	if err := s.ratings.SetTier(ctx, key, tier); err != nil {
		return nil, err
	}
	change := &model.TierChange{
		PlayerID: key.ID,
		Name:     name,
		Mode:     key.Mode,
		OldTier:  old,
		NewTier:  tier,
		Promoted: s.tiers.Index(tier) > s.tiers.Index(old),
	}
	metrics.RecordTierChange(change.Promoted)
	return change, nil
}
