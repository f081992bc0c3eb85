// Package redisstore keeps rating rows in Redis: one hash per row plus a
// sorted set per kind and mode ordered by elo.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

const (
	rowPrefix = "rl:rating:" // HASH per rating row
	eloPrefix = "rl:elo:"    // ZSET per kind and mode: score=elo, member=entity id
)

const unrankedTier = "Unranked"

// Store is a Redis backed rating store.
type Store struct{ rdb redis.UniversalClient }

// New connects to addr.
func New(addr, password string) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb redis.UniversalClient) *Store { return &Store{rdb: rdb} }

func (s *Store) Close() error { return s.rdb.Close() }

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func rowKey(k model.RatingKey) string { return rowPrefix + k.String() }

func eloKey(kind model.Kind, mode model.Mode) string {
	return eloPrefix + string(kind) + ":" + string(mode)
}

// fields encodes the mutable columns of r. Tier is written separately.
func fields(r model.Rating) map[string]any {
	return map[string]any{
		"base_mu":         r.BaseMu,
		"base_sigma":      r.BaseSigma,
		"current_mu":      r.CurrentMu,
		"current_sigma":   r.CurrentSigma,
		"nb_observations": r.Observations,
		"base_cutoff_id":  r.BaseCutoffID,
		"last_outcome_id": r.LastOutcomeID,
		"period_outcomes": r.PeriodOutcomes,
		"period_variance": r.PeriodVariance,
		"period_count":    r.PeriodCount,
		"elo":             r.Elo(),
	}
}

// decode parses a hash read back from Redis.
func decode(key model.RatingKey, h map[string]string) (model.Rating, error) {
	r := model.Rating{Key: key, Tier: h["tier"]}
	if r.Tier == "" {
		r.Tier = unrankedTier
	}
	floats := map[string]*float64{
		"base_mu":         &r.BaseMu,
		"base_sigma":      &r.BaseSigma,
		"current_mu":      &r.CurrentMu,
		"current_sigma":   &r.CurrentSigma,
		"period_outcomes": &r.PeriodOutcomes,
		"period_variance": &r.PeriodVariance,
	}
	for name, dst := range floats {
		v, err := strconv.ParseFloat(h[name], 64)
		if err != nil {
			return r, fmt.Errorf("field %s of %s: %w", name, key, err)
		}
		*dst = v
	}
	ints := map[string]*int64{
		"nb_observations": &r.Observations,
		"base_cutoff_id":  &r.BaseCutoffID,
		"last_outcome_id": &r.LastOutcomeID,
	}
	for name, dst := range ints {
		v, err := strconv.ParseInt(h[name], 10, 64)
		if err != nil {
			return r, fmt.Errorf("field %s of %s: %w", name, key, err)
		}
		*dst = v
	}
	n, err := strconv.Atoi(h["period_count"])
	if err != nil {
		return r, fmt.Errorf("field period_count of %s: %w", key, err)
	}
	r.PeriodCount = n
	return r, nil
}

// GetRating loads one row.
func (s *Store) GetRating(ctx context.Context, key model.RatingKey) (model.Rating, error) {
	h, err := s.rdb.HGetAll(ctx, rowKey(key)).Result()
	if err != nil {
		return model.Rating{}, fmt.Errorf("get rating %s: %w", key, err)
	}
	if len(h) == 0 {
		return model.Rating{}, fmt.Errorf("rating %s: %w", key, model.ErrNotFound)
	}
	return decode(key, h)
}

// UpsertRating writes the row and its elo index entry atomically.
func (s *Store) UpsertRating(ctx context.Context, r model.Rating) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, rowKey(r.Key), fields(r))
	pipe.HSetNX(ctx, rowKey(r.Key), "tier", unrankedTier)
	pipe.ZAdd(ctx, eloKey(r.Key.Kind, r.Key.Mode), redis.Z{Score: r.Elo(), Member: r.Key.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert rating %s: %w", r.Key, err)
	}
	return nil
}

// CreateRating inserts r unless the row exists. It reports whether it inserted.
func (s *Store) CreateRating(ctx context.Context, r model.Rating) (bool, error) {
	key := rowKey(r.Key)
	created := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil || n > 0 {
			return err
		}
		tier := r.Tier
		if tier == "" {
			tier = unrankedTier
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields(r))
			pipe.HSet(ctx, key, "tier", tier)
			pipe.ZAdd(ctx, eloKey(r.Key.Kind, r.Key.Mode), redis.Z{Score: r.Elo(), Member: r.Key.ID})
			return nil
		})
		created = err == nil
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create rating %s: %w", r.Key, err)
	}
	return created, nil
}

// SetTier records the last announced tier.
func (s *Store) SetTier(ctx context.Context, key model.RatingKey, tier string) error {
	if err := s.rdb.HSet(ctx, rowKey(key), "tier", tier).Err(); err != nil {
		return fmt.Errorf("set tier %s: %w", key, err)
	}
	return nil
}

// ListRatings streams every row of kind in mode, lowest elo first.
func (s *Store) ListRatings(ctx context.Context, kind model.Kind, mode model.Mode, fn func(model.Rating) error) error {
	ids, err := s.rdb.ZRange(ctx, eloKey(kind, mode), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list ratings: %w", err)
	}
	const batch = 256
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		keys := make([]model.RatingKey, 0, end-start)
		cmds := make([]*redis.MapStringStringCmd, 0, end-start)
		pipe := s.rdb.Pipeline()
		for _, raw := range ids[start:end] {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("bad member %q in %s: %w", raw, eloKey(kind, mode), err)
			}
			k := model.RatingKey{Kind: kind, ID: id, Mode: mode}
			keys = append(keys, k)
			cmds = append(cmds, pipe.HGetAll(ctx, rowKey(k)))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("list ratings: %w", err)
		}
		for i, cmd := range cmds {
			h := cmd.Val()
			if len(h) == 0 {
				continue
			}
			r, err := decode(keys[i], h)
			if err != nil {
				return err
			}
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	return nil
}
