// Package division maps percentile ranks to named tiers.
package division

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel tier names.
const (
	Unranked = "Unranked"
	TheOne   = "The One"
)

// MinObservations is the number of rated outcomes before a player is ranked.
const MinObservations = 5

// curveExponent flattens the cutoff curve toward the top tiers.
const curveExponent = 0.8

// DefaultTiers are the tier names from lowest to highest.
var DefaultTiers = []string{
	"Cardboard",
	"Wood", "Wood+", "Wood++",
	"Bronze", "Bronze+", "Bronze++",
	"Silver", "Silver+", "Silver++",
	"Gold", "Gold+", "Gold++",
	"Platinum", "Platinum+", "Platinum++",
	"Diamond", "Diamond+", "Diamond++",
	"Legendary",
}

// ErrInvalidTable is returned for empty or duplicated tier lists.
var ErrInvalidTable = errors.New("invalid tier table")

// Table is an immutable ordered tier list with precomputed cutoffs.
type Table struct {
	names   []string
	cutoffs []float64
	index   map[string]int
}

// NewTable builds a table from names ordered lowest first.
func NewTable(names []string) (*Table, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidTable)
	}
	t := &Table{
		names:   append([]string(nil), names...),
		cutoffs: make([]float64, len(names)),
		index:   make(map[string]int, len(names)),
	}
	n := float64(len(names))
	for i, name := range names {
		if name == Unranked || name == TheOne {
			return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidTable, name)
		}
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTable, name)
		}
		t.index[name] = i
		t.cutoffs[i] = 1 - (math.Cos(math.Pow(float64(i+1)/n, curveExponent)*math.Pi)/2 + 0.5)
	}
	return t, nil
}

// MustDefault returns the table of DefaultTiers.
func MustDefault() *Table {
	t, err := NewTable(DefaultTiers)
	if err != nil {
		panic(err)
	}
	return t
}

// Classify returns the tier for a percentile in (0,1] where 1 is the best
// player. A zero percentile has no standing and is unranked.
func (t *Table) Classify(percentile float64, observations int64) string {
	if observations < MinObservations || math.IsNaN(percentile) || percentile <= 0 || percentile > 1 {
		return Unranked
	}
	if percentile == 1 {
		return TheOne
	}
	for i, cutoff := range t.cutoffs {
		if percentile < cutoff {
			return t.names[i]
		}
	}
	return t.names[len(t.names)-1]
}

// Index orders tier names: Unranked is -1, TheOne is len(names), unknown names are -1.
func (t *Table) Index(name string) int {
	switch name {
	case TheOne:
		return len(t.names)
	case Unranked, "":
		return -1
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Cutoff returns the upper percentile bound of the 1-indexed tier i.
func (t *Table) Cutoff(i int) float64 { return t.cutoffs[i-1] }

// Names returns a copy of the tier names.
func (t *Table) Names() []string { return append([]string(nil), t.names...) }

// Promoted reports whether moving from old to new is an upward change.
func (t *Table) Promoted(old, new string) bool { return t.Index(new) > t.Index(old) }
