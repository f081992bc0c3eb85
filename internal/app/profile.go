package service

import (
	"context"
	"errors"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
)

// updateProfiles moves the skill profile of every player who passed the
// content towards the content's profile for the mods they played. It runs
// once per stored game; failures only cost placement quality.
func (s *Service) updateProfiles(ctx context.Context, report model.MatchReport) {
	item, err := s.catalog.GetContent(ctx, report.ContentID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn(ctx, "skill profiles not updated",
				logger.Int64("game_id", report.GameID), logger.Error(err))
		}
		return
	}
	for _, r := range report.Results {
		if !r.Won() {
			continue
		}
		mods := r.Mods
		if mods == nil {
			mods = report.Mods
		}
		target, ok := item.Profile(model.ModSetFor(mods))
		if !ok || target.IsZero() {
			continue
		}
		p, err := s.catalog.PlayerProfile(ctx, r.PlayerID, report.Mode)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn(ctx, "load skill profile", logger.Int64("player_id", r.PlayerID), logger.Error(err))
			continue
		}
		if r.Name != "" {
			p.Name = r.Name
		}
		p.Skill = p.Skill.Blend(target, s.skillBlend)
		if err := s.catalog.PutPlayerProfile(ctx, p); err != nil {
			s.logger.Warn(ctx, "store skill profile", logger.Int64("player_id", r.PlayerID), logger.Error(err))
		}
	}
}

// withNames copies display names from the incoming results onto lines read
// back from storage.
func withNames(stored, incoming []model.Result) []model.Result {
	names := make(map[int64]string, len(incoming))
	for _, r := range incoming {
		names[r.PlayerID] = r.Name
	}
	for i := range stored {
		stored[i].Name = names[stored[i].PlayerID]
	}
	return stored
}
