package discovery

import (
	"maps"

	"tldrpost/internal/domain"
	"tldrpost/internal/page"
)

// Claims is the set of blocks the loop has taken ownership of. Blocks are
// never unclaimed.
type Claims map[domain.BlockID]struct{}

func (c Claims) Has(id domain.BlockID) bool {
	_, ok := c[id]
	return ok
}

// Claim is the pure discovery step: it returns the claimed set after seeing
// matches, and the matches that were claimed just now. The input set is not
// modified.
func Claim(claims Claims, matches []page.Match) (Claims, []page.Match) {
	next := make(Claims, len(claims)+len(matches))
	maps.Copy(next, claims)

	var fresh []page.Match
	for _, m := range matches {
		if !m.Eligible || next.Has(m.ID) {
			continue
		}

		next[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}

	return next, fresh
}
