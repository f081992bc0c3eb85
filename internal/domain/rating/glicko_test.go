package rating

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/okian/ranklobby/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var playerKey = model.RatingKey{Kind: model.KindPlayer, ID: 7, Mode: model.ModeOsu}

// stream builds n observations with ids starting at first; every skipEvery-th
// outcome carries a disallowed mod when skipEvery > 0.
func stream(seed uint64, first int64, n, skipEvery int) []model.Observation {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
	out := make([]model.Observation, n)
	for i := range out {
		o := model.Observation{
			ID:            first + int64(i),
			Score:         float64(rng.IntN(2)),
			OpponentMu:    rng.NormFloat64() * 2,
			OpponentSigma: model.SigmaMin + rng.Float64()*(model.SigmaMax-model.SigmaMin),
		}
		if skipEvery > 0 && (i+1)%skipEvery == 0 {
			o.Mods = model.Mods{"HD"}
		} else if rng.IntN(3) == 0 {
			o.Mods = model.Mods{"DT", "HR"}
		}
		out[i] = o
	}
	return out
}

func inBounds(r model.Rating) bool {
	return r.BaseSigma >= model.SigmaMin && r.BaseSigma <= model.SigmaMax &&
		r.CurrentSigma >= model.SigmaMin && r.CurrentSigma <= model.SigmaMax
}

func TestUpdate(t *testing.T) {
	Convey("Given a fresh player rating", t, func() {
		fresh := model.NewRating(playerKey)

		Convey("When the player loses once to an equal opponent with legal mods", func() {
			next, res, err := Update(fresh, []model.Observation{{
				ID: 1, Score: model.PlayerScore(false), OpponentMu: 0, OpponentSigma: model.SigmaMax, Mods: model.Mods{"HR"},
			}})

			Convey("Then mu and sigma drop without a checkpoint", func() {
				So(err, ShouldBeNil)
				So(next.CurrentMu, ShouldBeLessThan, 0)
				So(next.CurrentSigma, ShouldBeLessThan, model.SigmaMax)
				So(next.Observations, ShouldEqual, int64(1))
				So(res.Checkpoints, ShouldEqual, 0)
				So(next.BaseCutoffID, ShouldEqual, int64(0))
				So(next.BaseMu, ShouldEqual, 0)
				So(next.BaseSigma, ShouldEqual, model.SigmaMax)
				So(next.CurrentMu, ShouldAlmostEqual, -0.934, 0.001)
			})
		})

		Convey("When the content side sees the same loss", func() {
			content := model.NewRating(model.RatingKey{Kind: model.KindContent, ID: 1, Mode: model.ModeOsu})
			next, _, err := Update(content, []model.Observation{{
				ID: 1, Score: model.ContentScore(false), OpponentMu: 0, OpponentSigma: model.SigmaMax,
			}})

			Convey("Then the content rating rises", func() {
				So(err, ShouldBeNil)
				So(next.CurrentMu, ShouldBeGreaterThan, 0)
			})
		})

		Convey("When a long random stream is applied", func() {
			obs := stream(42, 1, 200, 0)
			next, res, err := Update(fresh, obs)

			Convey("Then both sigmas stay inside the clamp", func() {
				So(err, ShouldBeNil)
				So(inBounds(next), ShouldBeTrue)
				So(int64(res.Accepted), ShouldEqual, next.Observations)
			})
		})

		Convey("When every outcome is a win against a far weaker opponent", func() {
			obs := make([]model.Observation, 300)
			for i := range obs {
				obs[i] = model.Observation{ID: int64(i + 1), Score: 1, OpponentMu: -5, OpponentSigma: model.SigmaMin}
			}
			next, _, err := Update(fresh, obs)

			Convey("Then sigma bottoms out at the minimum rather than below it", func() {
				So(err, ShouldBeNil)
				So(inBounds(next), ShouldBeTrue)
			})
		})

		Convey("When outcomes carry disallowed mods", func() {
			obs := stream(3, 1, 45, 3)
			next, res, err := Update(fresh, obs)

			Convey("Then they are skipped and checkpoints count accepted outcomes only", func() {
				So(err, ShouldBeNil)
				So(res.Skipped, ShouldEqual, 15)
				So(res.Accepted, ShouldEqual, 30)
				So(res.Checkpoints, ShouldEqual, 2)
				So(next.PeriodCount, ShouldEqual, 0)
				So(next.LastOutcomeID, ShouldEqual, int64(45))
				So(next.BaseCutoffID, ShouldEqual, int64(44))
			})
		})

		Convey("When fourteen outcomes are followed by one more", func() {
			first, res1, err1 := Update(fresh, stream(9, 1, 14, 0))
			second, res2, err2 := Update(first, stream(10, 15, 1, 0))

			Convey("Then the checkpoint happens exactly on the fifteenth", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(res1.Checkpoints, ShouldEqual, 0)
				So(first.PeriodCount, ShouldEqual, 14)
				So(res2.Checkpoints, ShouldEqual, 1)
				So(second.BaseCutoffID, ShouldEqual, int64(15))
				So(second.CurrentMu, ShouldEqual, second.BaseMu)
				So(second.CurrentSigma, ShouldEqual, second.BaseSigma)
			})
		})

		Convey("When the same stream is split into batches", func() {
			obs := stream(11, 1, 40, 4)
			whole, _, err := Update(fresh, obs)
			So(err, ShouldBeNil)

			parts := fresh
			for _, cut := range [][2]int{{0, 7}, {7, 27}, {27, 40}} {
				parts, _, err = Update(parts, obs[cut[0]:cut[1]])
				So(err, ShouldBeNil)
			}

			Convey("Then observation counts and checkpoints do not depend on batching", func() {
				So(parts.Observations, ShouldEqual, whole.Observations)
				So(parts.BaseCutoffID, ShouldEqual, whole.BaseCutoffID)
				So(parts.PeriodCount, ShouldEqual, whole.PeriodCount)
				So(parts.LastOutcomeID, ShouldEqual, whole.LastOutcomeID)
				So(inBounds(parts), ShouldBeTrue)
			})
		})

		Convey("When a stream is replayed from a fresh entity", func() {
			obs := stream(5, 1, 64, 5)
			a, _, errA := Update(fresh, obs)
			b, _, errB := Update(fresh, obs)

			Convey("Then both replays end in identical state", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(a, ShouldResemble, b)
			})
		})

		Convey("When outcome ids are not strictly increasing", func() {
			_, _, err := Update(fresh, []model.Observation{
				{ID: 2, OpponentSigma: model.SigmaMax},
				{ID: 2, OpponentSigma: model.SigmaMax},
			})

			Convey("Then the batch is rejected", func() {
				So(errors.Is(err, ErrInvalidOutcome), ShouldBeTrue)
			})
		})

		Convey("When an outcome is not newer than the checkpoint", func() {
			checked := fresh
			checked.BaseCutoffID = 10
			_, _, err := Update(checked, []model.Observation{{ID: 10, OpponentSigma: model.SigmaMax}})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, ErrInvalidOutcome), ShouldBeTrue)
			})
		})

		Convey("When only skipped outcomes arrive", func() {
			next, res, err := Update(fresh, []model.Observation{{ID: 1, OpponentSigma: model.SigmaMax, Mods: model.Mods{"EZ"}}})

			Convey("Then nothing needs to be written", func() {
				So(err, ShouldBeNil)
				So(res.Changed(), ShouldBeFalse)
				So(next.CurrentMu, ShouldEqual, fresh.CurrentMu)
				So(next.Observations, ShouldEqual, int64(0))
			})
		})
	})
}
