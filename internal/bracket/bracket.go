// Package bracket generates tournament brackets as batches of match
// skeletons and wires the winner/loser feeds between them. Advancement at
// runtime only follows the wiring laid down here, which keeps it idempotent
// across scheduler restarts.
package bracket

import (
	"fmt"
	"math"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
	"github.com/sivert-io/matchzy-auto-tournament/internal/util"
)

// GrandFinalsSlug is the slug of the (first) grand final in double
// elimination; the bracket-reset rematch appends "-2".
const GrandFinalsSlug = "grand-finals"

// Generate produces the initial match set for a tournament. Swiss
// tournaments only get their first round here; later rounds are paired by
// NextSwissRound once results exist.
func Generate(t *store.Tournament) ([]*store.Match, error) {
	switch t.Type {
	case store.TypeSingleElim:
		return singleElim(t.TeamIDs)
	case store.TypeDoubleElim:
		return doubleElim(t.TeamIDs)
	case store.TypeRoundRobin:
		return roundRobin(t.TeamIDs)
	case store.TypeSwiss:
		return swissRound(t.TeamIDs, 1, nil), nil
	}
	return nil, fmt.Errorf("%w: unknown tournament type %q", store.ErrValidation, t.Type)
}

func slugFor(team1, team2 string) string {
	t1, t2 := team1, team2
	if t1 == "" {
		t1 = "null"
	}
	if t2 == "" {
		t2 = "null"
	}
	return util.MatchSlug(t1, t2)
}

// singleElim builds a knockout tree. A team count short of a power of two
// is padded with explicit null slots; those matches complete as walkovers.
func singleElim(teams []string) ([]*store.Match, error) {
	n := len(teams)
	size := util.NextPowerOfTwo(n)
	byes := size - n
	rounds := int(math.Log2(float64(size)))

	var matches []*store.Match

	// Round 1: teams with a bye first, then the remaining pairs in input
	// order.
	round1 := make([]*store.Match, 0, size/2)
	for i := 0; i < byes; i++ {
		round1 = append(round1, &store.Match{
			Slug:     slugFor(teams[i], ""),
			Round:    1,
			Team1:    teams[i],
			Walkover: true,
		})
	}
	for i := byes; i < n; i += 2 {
		round1 = append(round1, &store.Match{
			Slug:  slugFor(teams[i], teams[i+1]),
			Round: 1,
			Team1: teams[i],
			Team2: teams[i+1],
		})
	}
	for i, m := range round1 {
		m.MatchNumber = i + 1
		m.BracketTag = bracketTag("wb", 1, i+1, rounds)
	}
	matches = append(matches, round1...)

	// Later rounds: placeholders wired from the two parents.
	for r := 2; r <= rounds; r++ {
		count := size >> uint(r)
		for i := 1; i <= count; i++ {
			matches = append(matches, &store.Match{
				Slug:        util.BracketSlug("wb", r, i),
				Round:       r,
				MatchNumber: i,
				BracketTag:  bracketTag("wb", r, i, rounds),
			})
		}
	}

	wireWinners(matches, "wb", rounds)

	return matches, nil
}

// bracketTag names a match's bracket position, e.g. "wb-r1-m2"; the last
// winners round is simply "final".
func bracketTag(bracket string, round, matchNumber, total int) string {
	if bracket == "wb" && round == total {
		return "final"
	}
	return util.BracketSlug(bracket, round, matchNumber)
}

// wireWinners points every non-final match of a bracket at the child slot
// its winner fills: match i of round r feeds slot (i odd -> 1, even -> 2)
// of match ceil(i/2) in round r+1.
func wireWinners(matches []*store.Match, bracket string, rounds int) {
	bySlot := map[[2]int]*store.Match{}
	for _, m := range matches {
		bySlot[[2]int{m.Round, m.MatchNumber}] = m
	}
	for _, m := range matches {
		if m.Round >= rounds {
			continue
		}
		child := bySlot[[2]int{m.Round + 1, (m.MatchNumber + 1) / 2}]
		if child == nil {
			continue
		}
		m.WinnerTo = child.Slug
		m.WinnerSlot = 2 - m.MatchNumber%2
	}
}

// doubleElim builds winners bracket, losers bracket and the grand final.
// Team count must be a power of two. Losers drop with the order reversed on
// even winners rounds to delay rematches.
func doubleElim(teams []string) ([]*store.Match, error) {
	n := len(teams)
	if !util.IsPowerOfTwo(n) || n < 4 {
		return nil, fmt.Errorf("%w: double elimination needs a power-of-two team count >= 4, got %d", store.ErrValidation, n)
	}
	k := int(math.Log2(float64(n)))

	wb, err := singleElim(teams)
	if err != nil {
		return nil, err
	}
	for _, m := range wb {
		if m.BracketTag == "final" {
			m.BracketTag = "wb-final"
		}
	}

	// Losers bracket: rounds 1..2(k-1). Odd rounds pair losers-bracket
	// survivors; even rounds fold in the losers of the next winners round.
	lbRounds := 2 * (k - 1)
	lbCount := func(l int) int {
		j := (l + 1) / 2 // 1-based pair index
		return n >> uint(j+1)
	}

	var lb []*store.Match
	for l := 1; l <= lbRounds; l++ {
		for i := 1; i <= lbCount(l); i++ {
			lb = append(lb, &store.Match{
				Slug:        util.BracketSlug("lb", l, i),
				Round:       k + l, // after the winners rounds in allocation order
				MatchNumber: i,
				BracketTag:  lbTag(l, lbRounds),
			})
		}
	}

	gf := &store.Match{
		Slug:        GrandFinalsSlug,
		Round:       k + lbRounds + 1,
		MatchNumber: 1,
		BracketTag:  GrandFinalsSlug,
	}

	lbSlug := func(l, i int) string { return util.BracketSlug("lb", l, i) }

	// Winners bracket losers drop in.
	for _, m := range wb {
		if m.Round == 1 {
			m.LoserTo = lbSlug(1, (m.MatchNumber+1)/2)
			m.LoserSlot = 2 - m.MatchNumber%2
			continue
		}
		count := n >> uint(m.Round) // matches in this winners round
		i := m.MatchNumber
		if m.Round%2 == 0 {
			i = count + 1 - i // reverse to delay rematches
		}
		m.LoserTo = lbSlug(2*(m.Round-1), i)
		m.LoserSlot = 2
	}

	// Winners final champion goes to the grand final.
	for _, m := range wb {
		if m.Round == k {
			m.WinnerTo = gf.Slug
			m.WinnerSlot = 1
		}
	}

	// Losers bracket internal wiring.
	for _, m := range lb {
		l := m.Round - k
		switch {
		case l == lbRounds:
			m.WinnerTo = gf.Slug
			m.WinnerSlot = 2
		case l%2 == 1:
			// Minor round winner meets the next winners-round dropout.
			m.WinnerTo = lbSlug(l+1, m.MatchNumber)
			m.WinnerSlot = 1
		default:
			// Major round winners pair up in the next minor round.
			m.WinnerTo = lbSlug(l+1, (m.MatchNumber+1)/2)
			m.WinnerSlot = 2 - m.MatchNumber%2
		}
	}

	matches := append(wb, lb...)
	matches = append(matches, gf)
	return matches, nil
}

func lbTag(l, total int) string {
	if l == total {
		return "lb-final"
	}
	return fmt.Sprintf("lb-r%d", l)
}

// GrandFinalReset builds the second grand final after the losers-bracket
// champion takes the first one: same teams, side choice reversed.
func GrandFinalReset(gf *store.Match) *store.Match {
	return &store.Match{
		Slug:        GrandFinalsSlug + "-2",
		Round:       gf.Round + 1,
		MatchNumber: 1,
		BracketTag:  GrandFinalsSlug,
		Team1:       gf.Team2,
		Team2:       gf.Team1,
	}
}

// roundRobin schedules one match per unordered team pair using the circle
// method, so every team plays once per round.
func roundRobin(teams []string) ([]*store.Match, error) {
	n := len(teams)

	circle := make([]string, n)
	copy(circle, teams)
	if n%2 == 1 {
		circle = append(circle, "") // bye slot
	}
	size := len(circle)
	rounds := size - 1

	var matches []*store.Match
	for r := 1; r <= rounds; r++ {
		num := 1
		for i := 0; i < size/2; i++ {
			t1, t2 := circle[i], circle[size-1-i]
			if t1 == "" || t2 == "" {
				continue // bye, the pair never meets itself
			}
			matches = append(matches, &store.Match{
				Slug:        slugFor(t1, t2),
				Round:       r,
				MatchNumber: num,
				BracketTag:  fmt.Sprintf("rr-r%d", r),
				Team1:       t1,
				Team2:       t2,
			})
			num++
		}
		// Rotate everything but the first slot.
		last := circle[size-1]
		copy(circle[2:], circle[1:size-1])
		circle[1] = last
	}

	return matches, nil
}

// SwissTotalRounds returns ceil(log2(n)).
func SwissTotalRounds(n int) int {
	return int(math.Ceil(math.Log2(float64(n))))
}

// swissRound pairs one swiss round. order is the pairing order (input
// order for round 1, standings order later); played maps already-played
// pairs to avoid when possible.
func swissRound(order []string, round int, played map[[2]string]bool) []*store.Match {
	remaining := append([]string(nil), order...)
	var matches []*store.Match
	num := 1

	for len(remaining) > 1 {
		t1 := remaining[0]
		remaining = remaining[1:]

		// First opponent not yet played; fall back to a rematch when
		// every candidate is a repeat.
		pick := 0
		for i, t2 := range remaining {
			if played == nil || !played[pairKey(t1, t2)] {
				pick = i
				break
			}
		}
		t2 := remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)

		slug := slugFor(t1, t2)
		if round > 1 {
			slug = fmt.Sprintf("%s-r%d", slug, round)
		}
		matches = append(matches, &store.Match{
			Slug:        slug,
			Round:       round,
			MatchNumber: num,
			BracketTag:  fmt.Sprintf("swiss-r%d", round),
			Team1:       t1,
			Team2:       t2,
		})
		num++
	}

	// Odd team count: the lowest-ranked team left gets a bye.
	if len(remaining) == 1 {
		matches = append(matches, &store.Match{
			Slug:        slugFor(remaining[0], "") + fmt.Sprintf("-r%d", round),
			Round:       round,
			MatchNumber: num,
			BracketTag:  fmt.Sprintf("swiss-r%d", round),
			Team1:       remaining[0],
			Walkover:    true,
		})
	}

	return matches
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Standings counts wins per team over completed matches.
func Standings(teamIDs []string, matches []*store.Match) map[string]int {
	wins := map[string]int{}
	for _, id := range teamIDs {
		wins[id] = 0
	}
	for _, m := range matches {
		if m.Status == store.MatchCompleted && m.Winner != "" {
			wins[m.Winner]++
		}
	}
	return wins
}

// NextSwissRound pairs the following swiss round from current standings,
// teams of equal score meeting first and re-pairs avoided while possible.
// Returns nil when all rounds are played.
func NextSwissRound(t *store.Tournament, matches []*store.Match) []*store.Match {
	total := SwissTotalRounds(len(t.TeamIDs))

	currentRound := 0
	for _, m := range matches {
		if m.Round > currentRound {
			currentRound = m.Round
		}
	}
	if currentRound >= total {
		return nil
	}
	for _, m := range matches {
		if m.Round == currentRound && m.Status != store.MatchCompleted {
			return nil // round still running
		}
	}

	wins := Standings(t.TeamIDs, matches)

	// Stable order: wins descending, input order as tiebreak.
	order := append([]string(nil), t.TeamIDs...)
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && wins[order[j]] > wins[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	played := map[[2]string]bool{}
	for _, m := range matches {
		if m.Team1 != "" && m.Team2 != "" {
			played[pairKey(m.Team1, m.Team2)] = true
		}
	}

	return swissRound(order, currentRound+1, played)
}
