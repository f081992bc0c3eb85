package model

import (
	"sort"
	"strings"
)

// Mods is the list of game modifiers active on a score or lobby.
type Mods []string

// ratedMods may be present without disqualifying a score from rating.
var ratedMods = map[string]struct{}{
	"HR": {}, "SD": {}, "PF": {}, "DT": {}, "NC": {}, "FI": {}, "FL": {}, "MR": {},
}

// Rated reports whether every modifier is in the ignorable set.
// No modifiers at all is always rated.
func (m Mods) Rated() bool {
	for _, mod := range m {
		if _, ok := ratedMods[strings.ToUpper(mod)]; !ok {
			return false
		}
	}
	return true
}

// Has reports whether mod is present.
func (m Mods) Has(mod string) bool {
	for _, x := range m {
		if strings.EqualFold(x, mod) {
			return true
		}
	}
	return false
}

func (m Mods) String() string {
	if len(m) == 0 {
		return ""
	}
	cp := append(Mods(nil), m...)
	sort.Strings(cp)
	return strings.Join(cp, "")
}

// ParseMods splits "HDDT" or "HD,DT" into modifiers.
func ParseMods(s string) Mods {
	s = strings.ToUpper(strings.NewReplacer(",", "", " ", "", "+", "").Replace(s))
	if s == "" || s == "NM" {
		return nil
	}
	out := make(Mods, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		out = append(out, s[i:i+2])
	}
	return out
}

// ModSet is the difficulty profile a content item is matched under.
type ModSet string

const (
	ModSetNoMod      ModSet = "NM"
	ModSetDoubleTime ModSet = "DT"
)

// ModSetFor maps lobby modifiers to a difficulty profile.
func ModSetFor(m Mods) ModSet {
	if m.Has("DT") || m.Has("NC") {
		return ModSetDoubleTime
	}
	return ModSetNoMod
}
