package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/okian/ranklobby/internal/domain/model"
)

const ratingColumns = `kind, entity_id, mode, base_mu, base_sigma, current_mu, current_sigma,
	nb_observations, base_cutoff_id, last_outcome_id, period_outcomes, period_variance, period_count, tier`

type scanner interface{ Scan(dest ...any) error }

func scanRating(row scanner) (model.Rating, error) {
	var (
		r          model.Rating
		kind, mode string
	)
	err := row.Scan(&kind, &r.Key.ID, &mode, &r.BaseMu, &r.BaseSigma, &r.CurrentMu, &r.CurrentSigma,
		&r.Observations, &r.BaseCutoffID, &r.LastOutcomeID, &r.PeriodOutcomes, &r.PeriodVariance, &r.PeriodCount, &r.Tier)
	r.Key.Kind = model.Kind(kind)
	r.Key.Mode = model.Mode(mode)
	return r, err
}

// GetRating loads one rating row.
func (s *Store) GetRating(ctx context.Context, key model.RatingKey) (model.Rating, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ratingColumns+` FROM rating
		WHERE kind = ? AND entity_id = ? AND mode = ?`, string(key.Kind), key.ID, string(key.Mode))
	r, err := scanRating(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rating{}, fmt.Errorf("rating %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return model.Rating{}, fmt.Errorf("get rating %s: %w", key, err)
	}
	return r, nil
}

// UpsertRating writes every column and refreshes the derived elo.
func (s *Store) UpsertRating(ctx context.Context, r model.Rating) error {
	if r.Tier == "" {
		r.Tier = "Unranked"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO rating (`+ratingColumns+`, elo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, entity_id, mode) DO UPDATE SET
			base_mu = excluded.base_mu,
			base_sigma = excluded.base_sigma,
			current_mu = excluded.current_mu,
			current_sigma = excluded.current_sigma,
			nb_observations = excluded.nb_observations,
			base_cutoff_id = excluded.base_cutoff_id,
			last_outcome_id = excluded.last_outcome_id,
			period_outcomes = excluded.period_outcomes,
			period_variance = excluded.period_variance,
			period_count = excluded.period_count,
			elo = excluded.elo`,
		string(r.Key.Kind), r.Key.ID, string(r.Key.Mode), r.BaseMu, r.BaseSigma, r.CurrentMu, r.CurrentSigma,
		r.Observations, r.BaseCutoffID, r.LastOutcomeID, r.PeriodOutcomes, r.PeriodVariance, r.PeriodCount, r.Tier,
		r.Elo())
	if err != nil {
		return fmt.Errorf("upsert rating %s: %w", r.Key, err)
	}
	return nil
}

// CreateRating inserts r unless a row already exists. It reports whether it inserted.
func (s *Store) CreateRating(ctx context.Context, r model.Rating) (bool, error) {
	if r.Tier == "" {
		r.Tier = "Unranked"
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO rating (`+ratingColumns+`, elo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, entity_id, mode) DO NOTHING`,
		string(r.Key.Kind), r.Key.ID, string(r.Key.Mode), r.BaseMu, r.BaseSigma, r.CurrentMu, r.CurrentSigma,
		r.Observations, r.BaseCutoffID, r.LastOutcomeID, r.PeriodOutcomes, r.PeriodVariance, r.PeriodCount, r.Tier,
		r.Elo())
	if err != nil {
		return false, fmt.Errorf("create rating %s: %w", r.Key, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetTier records the last announced tier of a player.
func (s *Store) SetTier(ctx context.Context, key model.RatingKey, tier string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE rating SET tier = ? WHERE kind = ? AND entity_id = ? AND mode = ?`,
		tier, string(key.Kind), key.ID, string(key.Mode))
	if err != nil {
		return fmt.Errorf("set tier %s: %w", key, err)
	}
	return nil
}

// ListRatings streams every rating of kind in mode to fn. fn must not call
// back into the store while rows are open.
func (s *Store) ListRatings(ctx context.Context, kind model.Kind, mode model.Mode, fn func(model.Rating) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ratingColumns+` FROM rating WHERE kind = ? AND mode = ?`,
		string(kind), string(mode))
	if err != nil {
		return fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return fmt.Errorf("scan rating: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
