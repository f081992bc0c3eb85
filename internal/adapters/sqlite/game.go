package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/okian/ranklobby/internal/domain/model"
)

// RecordGame stores a report and its result lines in one transaction and
// returns the report with OutcomeID set on every result.
func (s *Store) RecordGame(ctx context.Context, report model.MatchReport) (model.MatchReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO game (game_id, lobby_id, content_id, mode, mods, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.GameID, report.LobbyID, report.ContentID, string(report.Mode), report.Mods.String(),
		toMillis(report.StartedAt), toMillis(report.FinishedAt))
	if err != nil {
		if isConstraint(err) {
			return report, fmt.Errorf("%w: %d", ErrDuplicateGame, report.GameID)
		}
		return report, fmt.Errorf("insert game %d: %w", report.GameID, err)
	}

	out := report
	out.Results = append([]model.Result(nil), report.Results...)
	for i, r := range out.Results {
		res, err := tx.ExecContext(ctx, `INSERT INTO score
			(game_id, player_id, content_id, mode, score, accuracy, mods, passed, dodged, won)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.GameID, r.PlayerID, report.ContentID, string(report.Mode), r.Score, r.Accuracy,
			r.Mods.String(), boolInt(r.Passed), boolInt(r.Dodged), boolInt(r.Won()))
		if err != nil {
			return report, fmt.Errorf("insert score %d/%d: %w", report.GameID, r.PlayerID, err)
		}
		if out.Results[i].OutcomeID, err = res.LastInsertId(); err != nil {
			return report, err
		}
	}
	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit game %d: %w", report.GameID, err)
	}
	return out, nil
}

// LoadGame reads a stored report back with its result lines in outcome
// order. Names are not stored.
func (s *Store) LoadGame(ctx context.Context, gameID int64) (model.MatchReport, error) {
	r := model.MatchReport{GameID: gameID}
	var (
		mode, mods        string
		started, finished int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT lobby_id, content_id, mode, mods, started_at, finished_at
		FROM game WHERE game_id = ?`, gameID).
		Scan(&r.LobbyID, &r.ContentID, &mode, &mods, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("game %d: %w", gameID, model.ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("load game %d: %w", gameID, err)
	}
	r.Mode = model.Mode(mode)
	r.Mods = model.ParseMods(mods)
	r.StartedAt = fromMillis(started)
	r.FinishedAt = fromMillis(finished)

	rows, err := s.db.QueryContext(ctx, `SELECT score_id, player_id, score, accuracy, mods, passed, dodged
		FROM score WHERE game_id = ? ORDER BY score_id ASC`, gameID)
	if err != nil {
		return r, fmt.Errorf("load scores of game %d: %w", gameID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			res            model.Result
			resMods        string
			passed, dodged int
		)
		if err := rows.Scan(&res.OutcomeID, &res.PlayerID, &res.Score, &res.Accuracy, &resMods, &passed, &dodged); err != nil {
			return r, err
		}
		res.Mods = model.ParseMods(resMods)
		res.Passed = passed != 0
		res.Dodged = dodged != 0
		r.Results = append(r.Results, res)
	}
	return r, rows.Err()
}

// ScoresSince implements rating.ScoreLog.
func (s *Store) ScoresSince(ctx context.Context, key model.RatingKey, afterID int64) ([]model.ScoreRow, error) {
	column := "player_id"
	if key.Kind == model.KindContent {
		column = "content_id"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT score_id, game_id, player_id, content_id, mode, won, mods
		FROM score WHERE `+column+` = ? AND mode = ? AND score_id > ? ORDER BY score_id ASC`,
		key.ID, string(key.Mode), afterID)
	if err != nil {
		return nil, fmt.Errorf("scores since %d for %s: %w", afterID, key, err)
	}
	defer rows.Close()

	var out []model.ScoreRow
	for rows.Next() {
		var (
			row        model.ScoreRow
			mode, mods string
			won        int
		)
		if err := rows.Scan(&row.ID, &row.GameID, &row.PlayerID, &row.ContentID, &mode, &won, &mods); err != nil {
			return nil, err
		}
		row.Mode = model.Mode(mode)
		row.Won = won != 0
		row.Mods = model.ParseMods(mods)
		out = append(out, row)
	}
	return out, rows.Err()
}
