package model

import (
	"math"
	"sort"
)

// ARWeight scales approach-rate differences in Distance.
const ARWeight = 10

// SkillVector is the shared skill proxy of players, lobbies and content.
type SkillVector struct {
	Aim     float64 `json:"aim"`
	Speed   float64 `json:"speed"`
	Acc     float64 `json:"acc"`
	Overall float64 `json:"overall"`
	AR      float64 `json:"ar"`
	Stars   float64 `json:"stars"`
}

// Distance is the L1 distance used for both content ranking and placement.
func (s SkillVector) Distance(o SkillVector) float64 {
	return math.Abs(s.Aim-o.Aim) + math.Abs(s.Speed-o.Speed) + math.Abs(s.Acc-o.Acc) +
		ARWeight*math.Abs(s.AR-o.AR)
}

// Scale multiplies every axis except AR by k.
func (s SkillVector) Scale(k float64) SkillVector {
	return SkillVector{
		Aim:     s.Aim * k,
		Speed:   s.Speed * k,
		Acc:     s.Acc * k,
		Overall: s.Overall * k,
		AR:      s.AR,
		Stars:   s.Stars * k,
	}
}

// IsZero reports an unknown vector.
func (s SkillVector) IsZero() bool { return s == SkillVector{} }

// Blend moves s towards o by weight w in [0,1]. A zero s takes o as is.
func (s SkillVector) Blend(o SkillVector, w float64) SkillVector {
	if s.IsZero() {
		return o
	}
	mix := func(a, b float64) float64 { return a + w*(b-a) }
	return SkillVector{
		Aim:     mix(s.Aim, o.Aim),
		Speed:   mix(s.Speed, o.Speed),
		Acc:     mix(s.Acc, o.Acc),
		Overall: mix(s.Overall, o.Overall),
		AR:      mix(s.AR, o.AR),
		Stars:   mix(s.Stars, o.Stars),
	}
}

// MedianSkill aggregates per axis. It returns the zero vector for no input.
func MedianSkill(vs []SkillVector) SkillVector {
	if len(vs) == 0 {
		return SkillVector{}
	}
	axis := func(get func(SkillVector) float64) float64 {
		xs := make([]float64, len(vs))
		for i, v := range vs {
			xs[i] = get(v)
		}
		return Median(xs)
	}
	return SkillVector{
		Aim:     axis(func(v SkillVector) float64 { return v.Aim }),
		Speed:   axis(func(v SkillVector) float64 { return v.Speed }),
		Acc:     axis(func(v SkillVector) float64 { return v.Acc }),
		Overall: axis(func(v SkillVector) float64 { return v.Overall }),
		AR:      axis(func(v SkillVector) float64 { return v.AR }),
		Stars:   axis(func(v SkillVector) float64 { return v.Stars }),
	}
}

// Median of xs; the mean of the two middle values for even lengths.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// Player is a participant as seen by matchmaking.
type Player struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name"`
	Mode  Mode        `json:"mode"`
	Skill SkillVector `json:"skill"`
	Elo   float64     `json:"elo"`
}
