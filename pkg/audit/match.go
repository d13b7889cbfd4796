package audit

import (
	"strings"

	"github.com/agext/levenshtein"
)

// Matcher fuzzy-matches run names against ticket titles. The ticket title
// should be the run name, but small naming discrepancies (typos, separator
// differences) are common enough that an exact join loses records.
type Matcher struct {
	// Threshold is the maximum accepted edit distance between the
	// normalized run name and ticket title.
	Threshold int
}

// separatorNormalizer folds the separator characters seen in run names and
// ticket titles into one canonical form.
var separatorNormalizer = strings.NewReplacer("-", "_", " ", "_")

// normalizeName lowercases and canonicalizes separators so that
// "CEN_220101_1234" and "cen-220101-1234" compare equal.
func normalizeName(name string) string {
	return separatorNormalizer.Replace(strings.ToLower(name))
}

// Distance returns the edit distance between two names after
// normalization.
func (m *Matcher) Distance(a, b string) int {
	return levenshtein.Distance(normalizeName(a), normalizeName(b), nil)
}

// Match selects the best ticket for a run name. It returns the matched
// ticket and its distance, or ok=false when no candidate is within the
// threshold. Ties at equal distance prefer the most recently created
// ticket. This is a best-effort heuristic, not an authoritative join:
// an unmatched run or ticket is surfaced for review, never guessed.
func (m *Matcher) Match(
	runName string, candidates []Ticket,
) (best *Ticket, distance int, ok bool) {
	bestDistance := m.Threshold + 1

	for i := range candidates {
		d := m.Distance(runName, candidates[i].Title)
		if d > m.Threshold {
			continue
		}

		if d < bestDistance {
			best, bestDistance = &candidates[i], d

			continue
		}

		if d == bestDistance && best != nil &&
			candidates[i].Created.After(best.Created) {
			best = &candidates[i]
		}
	}

	if best == nil {
		return nil, 0, false
	}

	return best, bestDistance, true
}
