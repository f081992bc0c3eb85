package simulate

import (
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
)

// passSteepness scales the skill gap in the pass probability.
const passSteepness = 1.7

// baseTime anchors synthetic match timestamps so reruns produce equal reports.
var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// PassProbability is the chance a player of skill beats content of difficulty.
func PassProbability(skill, difficulty float64) float64 {
	return 1 / (1 + math.Exp(-passSteepness*(skill-difficulty)))
}

// Generate builds a deterministic scenario from cfg.Seed.
func Generate(cfg *Config) Scenario {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	sc := Scenario{
		Players: make([]Player, cfg.Players),
		Content: make([]Content, cfg.Content),
		Reports: make([]model.MatchReport, 0, cfg.Matches),
	}
	for i := range sc.Players {
		id := cfg.FirstPlayerID + int64(i)
		sc.Players[i] = Player{ID: id, Name: "sim-" + strconv.FormatInt(id, 10), Skill: rng.NormFloat64()}
	}
	for i := range sc.Content {
		sc.Content[i] = Content{ID: cfg.FirstContentID + int64(i), Difficulty: rng.NormFloat64()}
	}
	if len(sc.Players) == 0 || len(sc.Content) == 0 {
		return sc
	}

	k := min(max(cfg.PlayersPerMatch, 1), len(sc.Players))
	for i := range cfg.Matches {
		c := sc.Content[rng.IntN(len(sc.Content))]
		at := baseTime.Add(time.Duration(i) * time.Minute)
		report := model.MatchReport{
			GameID:     cfg.FirstGameID + int64(i),
			ContentID:  c.ID,
			Mode:       cfg.Mode,
			StartedAt:  at.Add(-3 * time.Minute),
			FinishedAt: at,
			Results:    make([]model.Result, 0, k),
		}
		for _, idx := range pick(rng, len(sc.Players), k) {
			p := sc.Players[idx]
			prob := PassProbability(p.Skill, c.Difficulty)
			passed := rng.Float64() < prob
			report.Results = append(report.Results, model.Result{
				PlayerID: p.ID,
				Name:     p.Name,
				Score:    int64(prob * 1_000_000),
				Accuracy: 0.6 + 0.4*prob,
				Passed:   passed,
			})
		}
		sc.Reports = append(sc.Reports, report)
	}
	return sc
}

// pick returns k distinct indices below n.
func pick(rng *rand.Rand, n, k int) []int {
	seen := make(map[int]struct{}, k)
	out := make([]int, 0, k)
	for len(out) < k {
		i := rng.IntN(n)
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}
