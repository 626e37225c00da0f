package match

import (
	"errors"
	"math/rand/v2"
	"slices"
)

const RosterSize = 5

// Difficulty tiers used in a roster.
const (
	DiffNormal = 1
	DiffHard   = 2
)

var ErrCatalogTooSmall = errors.New("catalog has fewer tracks than a roster needs")

// Roster is the five charts drawn for one match.
type Roster struct {
	Tracks [RosterSize]string
	Diffs  [RosterSize]int
}

// easyOdds is, per slot, the probability of drawing the normal tier.
var easyOdds = [RosterSize]float64{0, 0, 0.2, 0.4, 0.7}

// NewRoster draws RosterSize distinct tracks from catalog.
func NewRoster(catalog []string) (Roster, error) {
	var r Roster
	if len(catalog) < RosterSize {
		return r, ErrCatalogTooSmall
	}
	perm := rand.Perm(len(catalog))
	for i := range r.Tracks {
		r.Tracks[i] = catalog[perm[i]]
		r.Diffs[i] = DiffHard
		if rand.Float64() < easyOdds[i] {
			r.Diffs[i] = DiffNormal
		}
	}
	return r, nil
}

func (r Roster) ChartInfo() (tracks []string, diffs []int) {
	return r.Tracks[:], r.Diffs[:]
}

// banCandidates returns the roster indices left after removing bans.
func banCandidates(bans [2]int) []int {
	out := make([]int, 0, RosterSize)
	for i := 0; i < RosterSize; i++ {
		if !slices.Contains(bans[:], i) {
			out = append(out, i)
		}
	}
	return out
}

// pickFinal chooses uniformly from the charts neither player banned.
func pickFinal(bans [2]int) int {
	c := banCandidates(bans)
	return c[rand.IntN(len(c))]
}
