// Package suggest computes "did you mean" hints for misspelled names.
package suggest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxDistance bounds how different a suggestion may be from the target.
const maxDistance = 3

// Closest returns the candidate closest to target, or "" if none is close.
// A candidate matches when either string is a case-insensitive subsequence
// of the other (a dropped or an extra character), then the smallest
// Levenshtein distance wins.
func Closest(target string, candidates []string) string {
	if target == "" || len(candidates) == 0 {
		return ""
	}

	ranks := fuzzy.RankFindFold(target, candidates)
	for _, c := range candidates {
		if c != target && fuzzy.MatchFold(c, target) {
			ranks = append(ranks, fuzzy.Rank{Source: target, Target: c})
		}
	}
	for i := range ranks {
		ranks[i].Distance = fuzzy.LevenshteinDistance(strings.ToLower(target), strings.ToLower(ranks[i].Target))
	}
	sort.Stable(ranks)

	for _, r := range ranks {
		if r.Target != target && r.Distance <= maxDistance {
			return r.Target
		}
	}
	return ""
}

// Hint formats the closest candidate as a hint, or returns "".
func Hint(target string, candidates []string) string {
	if c := Closest(target, candidates); c != "" {
		return fmt.Sprintf("did you mean %q?", c)
	}
	return ""
}
