// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"math"
)

// Glicko-2 scale and sigma bounds.
const (
	GlickoScale = 173.7178
	SigmaMin    = 30 / GlickoScale
	SigmaMax    = 350 / GlickoScale
	EloOffset   = 1500.0
)

// Kind distinguishes the two rated entity families.
type Kind string

const (
	KindPlayer  Kind = "player"
	KindContent Kind = "content"
)

// Mode is the game ruleset a rating belongs to.
type Mode string

const (
	ModeOsu   Mode = "osu"
	ModeTaiko Mode = "taiko"
	ModeCatch Mode = "catch"
	ModeMania Mode = "mania"
)

// Modes lists the supported rulesets in wire order.
var Modes = []Mode{ModeOsu, ModeTaiko, ModeCatch, ModeMania}

// ParseMode validates a ruleset name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// RatingKey identifies one rating row.
type RatingKey struct {
	Kind Kind
	ID   int64
	Mode Mode
}

func (k RatingKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Kind, k.Mode, k.ID)
}

// Rating is the persisted two-timescale Glicko-2 state of one entity.
// Period* fields hold the accumulators of the rating period in progress.
type Rating struct {
	Key RatingKey

	BaseMu       float64
	BaseSigma    float64
	CurrentMu    float64
	CurrentSigma float64

	Observations  int64
	BaseCutoffID  int64
	LastOutcomeID int64

	PeriodOutcomes float64
	PeriodVariance float64
	PeriodCount    int

	// Tier is the last announced division, players only.
	Tier string
}

// NewRating returns a fresh row at 1500 with maximal uncertainty.
func NewRating(key RatingKey) Rating {
	return Rating{
		Key:          key,
		BaseSigma:    SigmaMax,
		CurrentSigma: SigmaMax,
	}
}

// Elo is the conservative display rating derived from the current estimate.
func (r Rating) Elo() float64 {
	return Elo(r.CurrentMu, r.CurrentSigma)
}

// Elo converts a Glicko-2 estimate to the display scale.
func Elo(mu, sigma float64) float64 {
	return mu*GlickoScale + EloOffset - 3*sigma*GlickoScale
}

// ClampSigma bounds sigma to [SigmaMin, SigmaMax].
func ClampSigma(sigma float64) float64 {
	return math.Max(SigmaMin, math.Min(SigmaMax, sigma))
}

// ContentMuFromStars seeds a content rating from its star difficulty.
func ContentMuFromStars(stars float64) float64 {
	elo := math.Max(0, math.Min(3000, stars*325))
	return (elo - EloOffset) / GlickoScale
}
