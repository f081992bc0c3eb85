package lobby

// KickQuorum is the number of distinct voters needed to kick or ban with n
// players present. It never drops below 2 so one player cannot clear a lobby.
func KickQuorum(n int) int { return max(2, ceilDiv(n, 2)) }

// AbortQuorum is the number of voters needed to abort a running match.
func AbortQuorum(n int) int { return max(1, ceilDiv(n, 4)) }

// SkipQuorum is the number of skip votes announced as needed.
func SkipQuorum(n int) int { return ceilDiv(n, 2) }

// SkipPasses reports whether votes out of n players switch the content.
func SkipPasses(votes, n int) bool { return votes > 0 && 2*votes >= n }

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

type voterSet map[int64]struct{}

// add records voter and reports whether it is a new vote.
func (s voterSet) add(voter int64) bool {
	if _, ok := s[voter]; ok {
		return false
	}
	s[voter] = struct{}{}
	return true
}

// kickVotes maps a target to the players voting against it.
type kickVotes map[int64]voterSet

func (k kickVotes) add(target, voter int64) (int, bool) {
	s, ok := k[target]
	if !ok {
		s = voterSet{}
		k[target] = s
	}
	added := s.add(voter)
	return len(s), added
}

// forget drops votes against id and votes cast by id.
func (k kickVotes) forget(id int64) {
	delete(k, id)
	for target, s := range k {
		delete(s, id)
		if len(s) == 0 {
			delete(k, target)
		}
	}
}
