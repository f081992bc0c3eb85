package rating

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/ranklobby/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type memStore struct {
	mu     sync.Mutex
	rows   map[model.RatingKey]model.Rating
	writes int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[model.RatingKey]model.Rating)}
}

func (m *memStore) GetRating(_ context.Context, key model.RatingKey) (model.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[key]
	if !ok {
		return model.Rating{}, fmt.Errorf("rating %s: %w", key, model.ErrNotFound)
	}
	return r, nil
}

func (m *memStore) UpsertRating(_ context.Context, r model.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[r.Key] = r
	m.writes++
	return nil
}

type memScoreLog struct {
	rows []model.ScoreRow
}

func (m *memScoreLog) ScoresSince(_ context.Context, key model.RatingKey, after int64) ([]model.ScoreRow, error) {
	var out []model.ScoreRow
	for _, r := range m.rows {
		if r.ID <= after || r.Mode != key.Mode {
			continue
		}
		if (key.Kind == model.KindPlayer && r.PlayerID == key.ID) || (key.Kind == model.KindContent && r.ContentID == key.ID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestEngineSync(t *testing.T) {
	Convey("Given stored results for one player against one content item", t, func() {
		ctx := context.Background()
		store := newMemStore()
		engine := NewEngine(store)
		contentKey := model.RatingKey{Kind: model.KindContent, ID: 55, Mode: model.ModeOsu}
		So(store.UpsertRating(ctx, model.NewRating(playerKey)), ShouldBeNil)
		So(store.UpsertRating(ctx, model.NewRating(contentKey)), ShouldBeNil)

		log := &memScoreLog{}
		for i := int64(1); i <= 4; i++ {
			log.rows = append(log.rows, model.ScoreRow{ID: i, PlayerID: 7, ContentID: 55, Mode: model.ModeOsu, Won: i%2 == 0})
		}

		Convey("When both sides sync", func() {
			player, pres, perr := engine.Sync(ctx, playerKey, log)
			content, cres, cerr := engine.Sync(ctx, contentKey, log)

			Convey("Then each applies all four results once", func() {
				So(perr, ShouldBeNil)
				So(cerr, ShouldBeNil)
				So(pres.Accepted, ShouldEqual, 4)
				So(cres.Accepted, ShouldEqual, 4)
				So(player.LastOutcomeID, ShouldEqual, int64(4))
				So(content.Observations, ShouldEqual, int64(4))
			})

			Convey("Then a second sync finds nothing new", func() {
				_, res, err := engine.Sync(ctx, playerKey, log)
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldEqual, 0)
			})

			Convey("Then a later result is picked up alone", func() {
				log.rows = append(log.rows, model.ScoreRow{ID: 9, PlayerID: 7, ContentID: 55, Mode: model.ModeOsu, Won: true})
				next, res, err := engine.Sync(ctx, playerKey, log)
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldEqual, 1)
				So(next.Observations, ShouldEqual, int64(5))
			})
		})

		Convey("When the opponent row is missing", func() {
			log.rows = append(log.rows, model.ScoreRow{ID: 5, PlayerID: 7, ContentID: 77, Mode: model.ModeOsu})
			_, res, err := engine.Sync(ctx, playerKey, log)

			Convey("Then defaults stand in for it", func() {
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldEqual, 5)
			})
		})
	})
}

func TestEngineApply(t *testing.T) {
	Convey("Given an engine over an in-memory store", t, func() {
		ctx := context.Background()
		store := newMemStore()
		engine := NewEngine(store)

		Convey("When the entity does not exist", func() {
			_, _, err := engine.Apply(ctx, playerKey, stream(1, 1, 3, 0))

			Convey("Then it fails with ErrUnknownEntity", func() {
				So(errors.Is(err, ErrUnknownEntity), ShouldBeTrue)
			})
		})

		Convey("When the entity exists", func() {
			So(store.UpsertRating(ctx, model.NewRating(playerKey)), ShouldBeNil)
			store.writes = 0

			next, res, err := engine.Apply(ctx, playerKey, stream(2, 1, 20, 0))

			Convey("Then the new state is persisted once", func() {
				So(err, ShouldBeNil)
				So(res.Checkpoints, ShouldEqual, 1)
				stored, _ := store.GetRating(ctx, playerKey)
				So(stored, ShouldResemble, next)
				So(store.writes, ShouldEqual, 1)
			})

			Convey("Then a batch of only skipped outcomes writes nothing", func() {
				_, res, err := engine.Apply(ctx, playerKey, []model.Observation{{ID: 100, OpponentSigma: 1, Mods: model.Mods{"EZ"}}})
				So(err, ShouldBeNil)
				So(res.Skipped, ShouldEqual, 1)
				So(store.writes, ShouldEqual, 1)
			})

			Convey("Then replaying an old outcome is rejected and nothing is written", func() {
				_, _, err := engine.Apply(ctx, playerKey, stream(2, 5, 1, 0))
				So(errors.Is(err, ErrInvalidOutcome), ShouldBeTrue)
				So(store.writes, ShouldEqual, 1)
			})
		})

		Convey("When many goroutines update the same entity", func() {
			So(store.UpsertRating(ctx, model.NewRating(playerKey)), ShouldBeNil)

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				accepted int
			)
			for i := 1; i <= 32; i++ {
				wg.Add(1)
				go func(id int64) {
					defer wg.Done()
					_, res, err := engine.Apply(ctx, playerKey, []model.Observation{{ID: id, Score: 1, OpponentSigma: model.SigmaMax}})
					if err == nil {
						mu.Lock()
						accepted += res.Accepted
						mu.Unlock()
					}
				}(int64(i))
			}
			wg.Wait()

			Convey("Then no accepted update is lost", func() {
				stored, _ := store.GetRating(ctx, playerKey)
				So(stored.Observations, ShouldEqual, int64(accepted))
				So(accepted, ShouldBeGreaterThan, 0)
				So(engine.locks.held, ShouldBeEmpty)
			})
		})
	})
}
