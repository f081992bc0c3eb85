package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
)

// PutPlayerProfile stores the skill proxy of a player in mode.
func (s *Store) PutPlayerProfile(ctx context.Context, p model.Player) error {
	v := p.Skill
	_, err := s.db.ExecContext(ctx, `INSERT INTO player_profile
		(player_id, mode, name, aim, speed, acc, overall, ar, stars, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (player_id, mode) DO UPDATE SET
			name = excluded.name, aim = excluded.aim, speed = excluded.speed, acc = excluded.acc,
			overall = excluded.overall, ar = excluded.ar, stars = excluded.stars, updated_at = excluded.updated_at`,
		p.ID, string(p.Mode), p.Name, v.Aim, v.Speed, v.Acc, v.Overall, v.AR, v.Stars, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("put player profile %d: %w", p.ID, err)
	}
	return nil
}

// PlayerProfile loads the stored skill proxy of a player.
func (s *Store) PlayerProfile(ctx context.Context, id int64, mode model.Mode) (model.Player, error) {
	p := model.Player{ID: id, Mode: mode}
	v := &p.Skill
	err := s.db.QueryRowContext(ctx, `SELECT name, aim, speed, acc, overall, ar, stars
		FROM player_profile WHERE player_id = ? AND mode = ?`, id, string(mode)).
		Scan(&p.Name, &v.Aim, &v.Speed, &v.Acc, &v.Overall, &v.AR, &v.Stars)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("player %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("player profile %d: %w", id, err)
	}
	return p, nil
}
