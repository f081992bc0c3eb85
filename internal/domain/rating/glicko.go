// Package rating implements the two-timescale Glicko-2 recurrence used for
// both players and content.
//
// Each entity keeps a base estimate, checkpointed once every PeriodLength
// accepted outcomes, and a current estimate that is recomputed from the base
// plus the accumulators of the period in progress. Accumulators live on the
// row so a period can span many batches.
package rating

import (
	"fmt"
	"math"

	"github.com/okian/ranklobby/internal/domain/model"
)

// PeriodLength is the number of accepted outcomes per rating period.
const PeriodLength = 15

// Result summarizes one Update.
type Result struct {
	Accepted    int
	Skipped     int
	Checkpoints int
}

// Changed reports whether the row needs to be written.
func (r Result) Changed() bool { return r.Accepted > 0 }

// Update applies ordered observations to r and returns the new state.
// It fails with ErrInvalidOutcome without touching r if any id is not
// strictly greater than the previous one and than the row's cutoff.
func Update(r model.Rating, obs []model.Observation) (model.Rating, Result, error) {
	var res Result
	if err := validate(r, obs); err != nil {
		return r, res, err
	}

	for _, o := range obs {
		r.LastOutcomeID = o.ID
		if !o.Mods.Rated() {
			res.Skipped++
			continue
		}

		g := 1 / math.Sqrt(1+3*o.OpponentSigma*o.OpponentSigma/(math.Pi*math.Pi))
		e := 1 / (1 + math.Exp(-g*(r.CurrentMu-o.OpponentMu)))
		r.PeriodVariance += g * g * e * (1 - e)
		r.PeriodOutcomes += g * (o.Score - e)
		r.PeriodCount++
		r.Observations++
		res.Accepted++

		if r.PeriodCount == PeriodLength {
			checkpoint(&r, o.ID)
			res.Checkpoints++
		}
	}

	if r.PeriodCount > 0 && (r.PeriodOutcomes != 0 || r.PeriodVariance != 0) {
		sigma := 1 / math.Sqrt(1/(r.BaseSigma*r.BaseSigma)+r.PeriodVariance)
		r.CurrentMu = r.BaseMu + sigma*sigma*r.PeriodOutcomes
		r.CurrentSigma = model.ClampSigma(sigma)
	}
	return r, res, nil
}

// checkpoint closes the rating period ending at outcome id.
func checkpoint(r *model.Rating, id int64) {
	sigma := 1 / math.Sqrt(1/(r.BaseSigma*r.BaseSigma)+r.PeriodVariance)
	r.BaseMu += sigma * sigma * r.PeriodOutcomes
	r.BaseSigma = model.ClampSigma(sigma)
	r.CurrentMu = r.BaseMu
	r.CurrentSigma = r.BaseSigma
	r.BaseCutoffID = id
	r.PeriodOutcomes = 0
	r.PeriodVariance = 0
	r.PeriodCount = 0
}

func validate(r model.Rating, obs []model.Observation) error {
	last := max(r.BaseCutoffID, r.LastOutcomeID)
	for i, o := range obs {
		if o.ID <= last {
			return fmt.Errorf("%w: %s outcome #%d has id %d, want > %d", ErrInvalidOutcome, r.Key, i, o.ID, last)
		}
		if math.IsNaN(o.OpponentMu) || math.IsNaN(o.OpponentSigma) || o.OpponentSigma <= 0 {
			return fmt.Errorf("%w: %s outcome %d has no usable opponent rating", ErrInvalidOutcome, r.Key, o.ID)
		}
		last = o.ID
	}
	return nil
}
