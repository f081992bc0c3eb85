package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/internal/domain/pool"
)

// filterColumns whitelists the SQL expression behind each filter field.
var filterColumns = map[pool.Field]string{
	pool.FieldStars:  "p.stars",
	pool.FieldPP:     "p.pp",
	pool.FieldAim:    "p.aim",
	pool.FieldSpeed:  "p.speed",
	pool.FieldAcc:    "p.acc",
	pool.FieldAR:     "p.ar",
	pool.FieldLength: "c.length",
	pool.FieldCS:     "c.cs",
	pool.FieldHP:     "c.hp",
	pool.FieldOD:     "c.od",
	pool.FieldBPM:    "c.bpm",
}

// InsertContent stores an item and its difficulty profiles, replacing older data.
func (s *Store) InsertContent(ctx context.Context, item model.ContentItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a := item.Attributes
	_, err = tx.ExecContext(ctx, `INSERT INTO content
		(content_id, set_id, mode, name, ar, cs, hp, od, bpm, length, ranked_state, unavailable, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id) DO UPDATE SET
			set_id = excluded.set_id, mode = excluded.mode, name = excluded.name,
			ar = excluded.ar, cs = excluded.cs, hp = excluded.hp, od = excluded.od,
			bpm = excluded.bpm, length = excluded.length, ranked_state = excluded.ranked_state,
			unavailable = MAX(content.unavailable, excluded.unavailable),
			fetched_at = excluded.fetched_at`,
		item.ID, item.SetID, string(item.Mode), item.Name, a.AR, a.CS, a.HP, a.OD, a.BPM, a.Length,
		int(item.RankedState), boolInt(item.Unavailable), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("insert content %d: %w", item.ID, err)
	}
	for ms, p := range item.Profiles {
		_, err = tx.ExecContext(ctx, `INSERT INTO content_profile (content_id, modset, stars, pp, aim, speed, acc, ar)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (content_id, modset) DO UPDATE SET
				stars = excluded.stars, pp = excluded.pp, aim = excluded.aim,
				speed = excluded.speed, acc = excluded.acc, ar = excluded.ar`,
			item.ID, string(ms), p.Stars, p.Overall, p.Aim, p.Speed, p.Acc, p.AR)
		if err != nil {
			return fmt.Errorf("insert profile %d/%s: %w", item.ID, ms, err)
		}
	}
	return tx.Commit()
}

// GetContent loads an item with all of its profiles.
func (s *Store) GetContent(ctx context.Context, id int64) (model.ContentItem, error) {
	var (
		item        model.ContentItem
		mode        string
		ranked      int
		unavailable int
	)
	a := &item.Attributes
	err := s.db.QueryRowContext(ctx, `SELECT content_id, set_id, mode, name, ar, cs, hp, od, bpm, length,
		ranked_state, unavailable FROM content WHERE content_id = ?`, id).
		Scan(&item.ID, &item.SetID, &mode, &item.Name, &a.AR, &a.CS, &a.HP, &a.OD, &a.BPM, &a.Length, &ranked, &unavailable)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContentItem{}, fmt.Errorf("content %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.ContentItem{}, fmt.Errorf("get content %d: %w", id, err)
	}
	item.Mode = model.Mode(mode)
	item.RankedState = model.RankedState(ranked)
	item.Unavailable = unavailable != 0

	rows, err := s.db.QueryContext(ctx, `SELECT modset, stars, pp, aim, speed, acc, ar
		FROM content_profile WHERE content_id = ?`, id)
	if err != nil {
		return model.ContentItem{}, fmt.Errorf("get profiles %d: %w", id, err)
	}
	defer rows.Close()
	item.Profiles = make(map[model.ModSet]model.SkillVector)
	for rows.Next() {
		var (
			ms string
			p  model.SkillVector
		)
		if err := rows.Scan(&ms, &p.Stars, &p.Overall, &p.Aim, &p.Speed, &p.Acc, &p.AR); err != nil {
			return model.ContentItem{}, err
		}
		item.Profiles[model.ModSet(ms)] = p
	}
	return item, rows.Err()
}

// HasContent reports whether id is already in the catalog.
func (s *Store) HasContent(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content WHERE content_id = ?`, id).Scan(&n)
	return n > 0, err
}

// MarkUnavailable bans id from every future selection.
func (s *Store) MarkUnavailable(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE content SET unavailable = 1 WHERE content_id = ?`, id); err != nil {
		return fmt.Errorf("mark unavailable %d: %w", id, err)
	}
	return nil
}

// buildCandidateQuery turns a pool query into SQL with bound parameters only.
func buildCandidateQuery(q pool.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	var (
		sb   strings.Builder
		args []any
	)

	sb.WriteString(`SELECT c.content_id, c.set_id, c.mode, c.name, c.ar, c.cs, c.hp, c.od, c.bpm, c.length,
	c.ranked_state, p.stars, p.pp, p.aim, p.speed, p.acc, p.ar, COALESCE(r.elo, 0), `)
	switch q.Algorithm {
	case pool.AlgorithmSkill:
		sb.WriteString(`ABS(p.aim - ?) + ABS(p.speed - ?) + ABS(p.acc - ?) + ? * ABS(p.ar - ?)`)
		args = append(args, q.Target.Aim, q.Target.Speed, q.Target.Acc, model.ARWeight, q.Target.AR)
	case pool.AlgorithmElo:
		sb.WriteString(`ABS(COALESCE(r.elo, 0) - ?)`)
		args = append(args, q.TargetElo)
	default:
		sb.WriteString(`0`)
	}
	sb.WriteString(` AS distance
	FROM content c
	JOIN content_profile p ON p.content_id = c.content_id AND p.modset = ?
	LEFT JOIN rating r ON r.kind = 'content' AND r.entity_id = c.content_id AND r.mode = c.mode
	WHERE c.mode = ? AND c.unavailable = 0`)
	args = append(args, string(q.ModSet), string(q.Mode))

	if len(q.RankedStates) > 0 {
		sb.WriteString(` AND c.ranked_state IN (?` + strings.Repeat(", ?", len(q.RankedStates)-1) + `)`)
		for _, rs := range q.RankedStates {
			args = append(args, int(rs))
		}
	}
	for _, f := range q.Filters {
		col, ok := filterColumns[f.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", pool.ErrInvalidFilter, f.Field)
		}
		sb.WriteString(` AND ` + col + ` BETWEEN ? AND ?`)
		args = append(args, f.Min, f.Max)
	}
	sb.WriteString(` ORDER BY distance ASC, c.content_id ASC`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	return sb.String(), args, nil
}

// QueryCandidates implements pool.CandidateSource.
func (s *Store) QueryCandidates(ctx context.Context, q pool.Query) ([]pool.Candidate, error) {
	query, args, err := buildCandidateQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []pool.Candidate
	for rows.Next() {
		var (
			c      pool.Candidate
			mode   string
			ranked int
		)
		it, p, a := &c.Item, &c.Profile, &c.Item.Attributes
		if err := rows.Scan(&it.ID, &it.SetID, &mode, &it.Name, &a.AR, &a.CS, &a.HP, &a.OD, &a.BPM, &a.Length,
			&ranked, &p.Stars, &p.Overall, &p.Aim, &p.Speed, &p.Acc, &p.AR, &c.Elo, &c.Distance); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		it.Mode = model.Mode(mode)
		it.RankedState = model.RankedState(ranked)
		it.Profiles = map[model.ModSet]model.SkillVector{q.ModSet: *p}
		out = append(out, c)
	}
	return out, rows.Err()
}
