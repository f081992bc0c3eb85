package pool

import (
	"fmt"

	"github.com/okian/ranklobby/internal/domain/model"
)

// Algorithm picks the metric candidates are ranked by.
type Algorithm string

const (
	// AlgorithmSkill ranks by skill vector distance from the lobby aggregate.
	AlgorithmSkill Algorithm = "skill"
	// AlgorithmElo ranks by distance between content elo and the lobby's median elo.
	AlgorithmElo Algorithm = "elo"
	// AlgorithmRandom ignores skill and keeps the first bucket by id.
	AlgorithmRandom Algorithm = "random"
)

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case AlgorithmSkill, AlgorithmElo, AlgorithmRandom:
		return a, nil
	}
	return "", fmt.Errorf("unknown algorithm %q", s)
}

// Field is an attribute a Filter can constrain.
type Field string

const (
	FieldStars  Field = "stars"
	FieldPP     Field = "pp"
	FieldAim    Field = "aim"
	FieldSpeed  Field = "speed"
	FieldAcc    Field = "acc"
	FieldLength Field = "length"
	FieldAR     Field = "ar"
	FieldCS     Field = "cs"
	FieldHP     Field = "hp"
	FieldOD     Field = "od"
	FieldBPM    Field = "bpm"
)

var knownFields = map[Field]struct{}{
	FieldStars: {}, FieldPP: {}, FieldAim: {}, FieldSpeed: {}, FieldAcc: {},
	FieldLength: {}, FieldAR: {}, FieldCS: {}, FieldHP: {}, FieldOD: {}, FieldBPM: {},
}

// Filter is an inclusive numeric range predicate on one field.
type Filter struct {
	Field Field   `json:"field"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Validate rejects unknown fields and inverted ranges.
func (f Filter) Validate() error {
	if _, ok := knownFields[f.Field]; !ok {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, f.Field)
	}
	if f.Min > f.Max {
		return fmt.Errorf("%w: %s min %.2f > max %.2f", ErrInvalidFilter, f.Field, f.Min, f.Max)
	}
	return nil
}

// Value reads the filtered field from an item and its profile.
func (f Filter) Value(item model.ContentItem, p model.SkillVector) float64 {
	switch f.Field {
	case FieldStars:
		return p.Stars
	case FieldPP:
		return p.Overall
	case FieldAim:
		return p.Aim
	case FieldSpeed:
		return p.Speed
	case FieldAcc:
		return p.Acc
	case FieldLength:
		return item.Attributes.Length
	case FieldAR:
		return p.AR
	case FieldCS:
		return item.Attributes.CS
	case FieldHP:
		return item.Attributes.HP
	case FieldOD:
		return item.Attributes.OD
	case FieldBPM:
		return item.Attributes.BPM
	}
	return 0
}

// Match reports whether the item satisfies the filter.
func (f Filter) Match(item model.ContentItem, p model.SkillVector) bool {
	v := f.Value(item, p)
	return v >= f.Min && v <= f.Max
}

// Query is what a candidate source needs to build a bucket.
type Query struct {
	Mode         model.Mode
	ModSet       model.ModSet
	Algorithm    Algorithm
	Target       model.SkillVector
	TargetElo    float64
	Filters      []Filter
	RankedStates []model.RankedState
	Limit        int
}

// Validate checks every filter.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	switch q.Algorithm {
	case AlgorithmSkill, AlgorithmElo, AlgorithmRandom:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidFilter, q.Algorithm)
	}
	return nil
}

// Candidate is one bucket entry.
type Candidate struct {
	Item     model.ContentItem
	Profile  model.SkillVector
	Elo      float64
	Distance float64
}

// Rank computes a candidate's distance under q.
func (q Query) Rank(c Candidate) float64 {
	switch q.Algorithm {
	case AlgorithmSkill:
		return q.Target.Distance(c.Profile)
	case AlgorithmElo:
		d := c.Elo - q.TargetElo
		if d < 0 {
			d = -d
		}
		return d
	}
	return 0
}
