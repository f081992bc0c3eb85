package rating

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
)

// Store is the rating row persistence the engine needs.
type Store interface {
	GetRating(ctx context.Context, key model.RatingKey) (model.Rating, error)
	UpsertRating(ctx context.Context, r model.Rating) error
}

// Engine applies observations to stored ratings, one update per key at a time.
type Engine struct {
	store Store
	log   logger.Logger
	locks keyedMutex
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   logger.Nop(),
		locks: keyedMutex{held: make(map[model.RatingKey]*keyLock)},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ScoreLog lists stored results for an entity, oldest first.
type ScoreLog interface {
	ScoresSince(ctx context.Context, key model.RatingKey, afterID int64) ([]model.ScoreRow, error)
}

// Apply loads key, applies obs and persists the result when anything was accepted.
// Calls for the same key are serialized.
func (e *Engine) Apply(ctx context.Context, key model.RatingKey, obs []model.Observation) (model.Rating, Result, error) {
	unlock := e.locks.lock(key)
	defer unlock()

	cur, err := e.load(ctx, key)
	if err != nil {
		return model.Rating{}, Result{}, err
	}
	return e.apply(ctx, cur, obs)
}

// Sync applies every stored result newer than the entity's last applied
// outcome, reading opponents' current ratings at call time. Running Sync for
// the same key from several workers is safe: the later call finds nothing new.
func (e *Engine) Sync(ctx context.Context, key model.RatingKey, log ScoreLog) (model.Rating, Result, error) {
	unlock := e.locks.lock(key)
	defer unlock()

	cur, err := e.load(ctx, key)
	if err != nil {
		return model.Rating{}, Result{}, err
	}
	rows, err := log.ScoresSince(ctx, key, max(cur.BaseCutoffID, cur.LastOutcomeID))
	if err != nil {
		return cur, Result{}, fmt.Errorf("scores for %s: %w", key, err)
	}
	if len(rows) == 0 {
		return cur, Result{}, nil
	}

	opponents := make(map[model.RatingKey]model.Rating)
	obs := make([]model.Observation, 0, len(rows))
	for _, row := range rows {
		ok := row.OpponentKey(key.Kind)
		opp, seen := opponents[ok]
		if !seen {
			opp, err = e.store.GetRating(ctx, ok)
			if errors.Is(err, model.ErrNotFound) {
				opp, err = model.NewRating(ok), nil
			}
			if err != nil {
				return cur, Result{}, fmt.Errorf("opponent %s: %w", ok, err)
			}
			opponents[ok] = opp
		}
		obs = append(obs, row.Observation(key.Kind, opp))
	}
	return e.apply(ctx, cur, obs)
}

func (e *Engine) load(ctx context.Context, key model.RatingKey) (model.Rating, error) {
	cur, err := e.store.GetRating(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return model.Rating{}, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	if err != nil {
		return model.Rating{}, fmt.Errorf("load %s: %w", key, err)
	}
	return cur, nil
}

// apply runs Update and persists; the caller holds the key lock.
func (e *Engine) apply(ctx context.Context, cur model.Rating, obs []model.Observation) (model.Rating, Result, error) {
	start := time.Now()
	key := cur.Key
	next, res, err := Update(cur, obs)
	if err != nil {
		return cur, res, err
	}
	for range res.Skipped {
		metrics.RecordOutcomeSkipped()
	}
	if !res.Changed() {
		return cur, res, nil
	}
	if err := e.store.UpsertRating(ctx, next); err != nil {
		return cur, res, fmt.Errorf("persist %s: %w", key, err)
	}

	metrics.RecordRatingUpdate(string(key.Kind))
	for range res.Checkpoints {
		metrics.RecordRatingPeriod()
	}
	metrics.RecordRatingLatency(float64(time.Since(start).Microseconds()) / 1000)
	e.log.Debug(ctx, "rating updated",
		logger.String("key", key.String()),
		logger.Int("accepted", res.Accepted),
		logger.Int("checkpoints", res.Checkpoints),
		logger.Float64("elo", next.Elo()))
	return next, res, nil
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serializes work per rating key and forgets idle keys.
type keyedMutex struct {
	mu   sync.Mutex
	held map[model.RatingKey]*keyLock
}

func (k *keyedMutex) lock(key model.RatingKey) func() {
	k.mu.Lock()
	l, ok := k.held[key]
	if !ok {
		l = &keyLock{}
		k.held[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.held, key)
		}
		k.mu.Unlock()
	}
}
