package reconcile

import (
	"strings"

	"github.com/nwalia/rentdesk/internal/models"
)

// MatchTenant resolves a free-text sender name against the active roster.
// Returns nil when nothing matches or when two candidates score equally:
// an ambiguous sender is never guessed, since a wrong guess misapplies funds.
func MatchTenant(senderName string, roster []models.Tenancy) *models.Tenancy {
	query := normalizeName(senderName)
	if query == "" {
		return nil
	}

	var (
		best      *models.Tenancy
		bestScore int
		tied      bool
	)

	for i := range roster {
		candidate := normalizeName(roster[i].Name)
		if candidate == "" {
			continue
		}

		if !namesMatch(query, candidate) {
			continue
		}

		// Score by the length of the shorter normalized string: the tighter
		// the overlap, the more specific the match.
		score := len(candidate)
		if len(query) < score {
			score = len(query)
		}

		switch {
		case score > bestScore:
			best = &roster[i]
			bestScore = score
			tied = false
		case score == bestScore:
			tied = true
		}
	}

	if tied {
		return nil
	}
	return best
}

// namesMatch accepts substring containment either way, or token-subset
// containment either way ("J Smith" matches "John Smith"; reordered names
// match too).
func namesMatch(a, b string) bool {
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return tokenSubset(a, b) || tokenSubset(b, a)
}

// tokenSubset reports whether every whitespace token of sub has a counterpart
// in super. A token counts as present when it equals a super token or is a
// prefix of one, so an initial like "j" covers "john".
func tokenSubset(sub, super string) bool {
	subTokens := strings.Fields(sub)
	if len(subTokens) == 0 {
		return false
	}

	superTokens := strings.Fields(super)

	for _, t := range subTokens {
		found := false
		for _, s := range superTokens {
			if t == s || strings.HasPrefix(s, t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// normalizeName lowercases, trims, and collapses interior whitespace.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
