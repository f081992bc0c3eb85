package model

// RankedState mirrors the upstream catalog status of a content item.
type RankedState int

const (
	RankedGraveyard RankedState = -2
	RankedWIP       RankedState = -1
	RankedPending   RankedState = 0
	RankedRanked    RankedState = 1
	RankedApproved  RankedState = 2
	RankedQualified RankedState = 3
	RankedLoved     RankedState = 4
)

// DefaultRankedStates are eligible for selection unless a lobby overrides them.
var DefaultRankedStates = []RankedState{RankedRanked, RankedApproved, RankedLoved}

// Attributes are the static numeric properties of a content item.
type Attributes struct {
	AR     float64 `json:"ar"`
	CS     float64 `json:"cs"`
	HP     float64 `json:"hp"`
	OD     float64 `json:"od"`
	BPM    float64 `json:"bpm"`
	Length float64 `json:"length"`
}

// ContentItem is one selectable beatmap-like unit of content.
type ContentItem struct {
	ID          int64                  `json:"id"`
	SetID       int64                  `json:"set_id"`
	Mode        Mode                   `json:"mode"`
	Name        string                 `json:"name"`
	Attributes  Attributes             `json:"attributes"`
	RankedState RankedState            `json:"ranked_state"`
	Unavailable bool                   `json:"unavailable"`
	Profiles    map[ModSet]SkillVector `json:"profiles,omitempty"`
}

// Profile returns the difficulty profile for a mod set.
func (c ContentItem) Profile(ms ModSet) (SkillVector, bool) {
	p, ok := c.Profiles[ms]
	return p, ok
}

// RatingKey returns the key of this item's rating in mode.
func (c ContentItem) RatingKey() RatingKey {
	return RatingKey{Kind: KindContent, ID: c.ID, Mode: c.Mode}
}
