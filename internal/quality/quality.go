// Package quality picks one variant out of the discovered candidates.
package quality

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"conch/internal/media"
)

// Ask is the preference value that always defers to the user.
const Ask = "ask"

// ErrNoQualityOptions is returned when there is nothing to select from.
var ErrNoQualityOptions = errors.New("no quality options available")

// Outcome is either a chosen variant or a request for the user to choose
// from Options.
type Outcome struct {
	Variant         media.CandidateVariant
	NeedsUserChoice bool
	Options         []media.CandidateVariant // sorted, highest first
}

// Select picks the candidate whose label matches preferred, or else the one
// numerically closest to it, preferring the higher quality on a tie. It is
// pure: the input slice is not modified.
func Select(candidates []media.CandidateVariant, preferred string) (Outcome, error) {
	if len(candidates) == 0 {
		return Outcome{}, ErrNoQualityOptions
	}

	sorted := Sorted(candidates)
	preferred = strings.TrimSpace(preferred)

	if strings.EqualFold(preferred, Ask) {
		return Outcome{NeedsUserChoice: true, Options: sorted}, nil
	}

	for _, c := range sorted {
		if strings.EqualFold(c.Label, preferred) {
			return Outcome{Variant: c, Options: sorted}, nil
		}
	}

	target := Numeric(preferred)
	best := sorted[0]
	bestDiff := abs(Numeric(best.Label) - target)
	// Descending order plus a strict comparison keeps the higher value on ties.
	for _, c := range sorted[1:] {
		if d := abs(Numeric(c.Label) - target); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	return Outcome{Variant: best, Options: sorted}, nil
}

// Sorted returns a copy of candidates ordered by numeric quality, highest
// first. Candidates of equal quality keep their relative order.
func Sorted(candidates []media.CandidateVariant) []media.CandidateVariant {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b media.CandidateVariant) int {
		return Numeric(b.Label) - Numeric(a.Label)
	})
	return sorted
}

// Numeric parses the leading digits of a label: "1080p" is 1080. Labels
// without leading digits are 0.
func Numeric(label string) int {
	label = strings.TrimSpace(label)
	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(label[:end])
	if err != nil {
		return 0
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
