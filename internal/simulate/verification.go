package simulate

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrLeaderboardOrder is returned when the leaderboard is not sorted by elo.
	ErrLeaderboardOrder = errors.New("leaderboard out of order")
	// ErrWeakCorrelation is returned when ratings do not follow hidden skill.
	ErrWeakCorrelation = errors.New("rating does not track skill")
)

// checkLeaderboard verifies that elo never increases and competition ranks
// never decrease down the board.
func checkLeaderboard(entries []Entry) error {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.Elo > prev.Elo {
			return fmt.Errorf("%w: entry %d elo %.1f above entry %d elo %.1f",
				ErrLeaderboardOrder, i+1, cur.Elo, i, prev.Elo)
		}
		if cur.Rank < prev.Rank || (cur.Elo < prev.Elo && cur.Rank == prev.Rank) {
			return fmt.Errorf("%w: entry %d rank %d after rank %d",
				ErrLeaderboardOrder, i+1, cur.Rank, prev.Rank)
		}
	}
	return nil
}

// skillCorrelation returns the Spearman correlation between hidden skill and
// elo over players that played at least one game, and how many were used.
func skillCorrelation(players []Player, ranks map[int64]Rank) (float64, int) {
	var skill, elo []float64
	for _, p := range players {
		r, ok := ranks[p.ID]
		if !ok || r.Games == 0 {
			continue
		}
		skill = append(skill, p.Skill)
		elo = append(elo, r.Elo)
	}
	if len(skill) < 2 {
		return 0, len(skill)
	}
	return pearson(rankOf(skill), rankOf(elo)), len(skill)
}

// rankOf returns fractional ranks, averaging ties.
func rankOf(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	out := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= n
	mb /= n
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}

// tierCounts tallies players per announced tier.
func tierCounts(ranks map[int64]Rank) map[string]int {
	out := make(map[string]int)
	for _, r := range ranks {
		out[r.Tier]++
	}
	return out
}
