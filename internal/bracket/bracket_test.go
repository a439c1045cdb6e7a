package bracket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

func bySlug(matches []*store.Match) map[string]*store.Match {
	out := make(map[string]*store.Match, len(matches))
	for _, m := range matches {
		out[m.Slug] = m
	}
	return out
}

func TestSingleElimFourTeams(t *testing.T) {
	matches, err := singleElim([]string{"alpha", "bravo", "charlie", "delta"})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	ms := bySlug(matches)
	m1 := ms["alpha_vs_bravo"]
	m2 := ms["charlie_vs_delta"]
	final := ms["wb-r2-m1"]
	require.NotNil(t, m1)
	require.NotNil(t, m2)
	require.NotNil(t, final)

	assert.Equal(t, "wb-r1-m1", m1.BracketTag)
	assert.Equal(t, "wb-r1-m2", m2.BracketTag)
	assert.Equal(t, "final", final.BracketTag)

	assert.Equal(t, "wb-r2-m1", m1.WinnerTo)
	assert.Equal(t, 1, m1.WinnerSlot)
	assert.Equal(t, "wb-r2-m1", m2.WinnerTo)
	assert.Equal(t, 2, m2.WinnerSlot)
	assert.Empty(t, final.WinnerTo)
}

func TestSingleElimThreeTeamsPadsWithBye(t *testing.T) {
	matches, err := singleElim([]string{"alpha", "bravo", "charlie"})
	require.NoError(t, err)
	require.Len(t, matches, 3)

	ms := bySlug(matches)
	bye := ms["alpha_vs_null"]
	require.NotNil(t, bye)
	assert.True(t, bye.Walkover)
	assert.Equal(t, "alpha", bye.Team1)
	assert.Empty(t, bye.Team2)
	assert.Equal(t, "wb-r2-m1", bye.WinnerTo)
	assert.Equal(t, 1, bye.WinnerSlot)

	real := ms["bravo_vs_charlie"]
	require.NotNil(t, real)
	assert.False(t, real.Walkover)
	assert.Equal(t, 2, real.WinnerSlot)
}

func TestSingleElimEightTeamsMatchCount(t *testing.T) {
	teams := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	matches, err := singleElim(teams)
	require.NoError(t, err)
	assert.Len(t, matches, 7)

	// Every non-final match feeds exactly one child slot.
	slots := map[string]bool{}
	for _, m := range matches {
		if m.BracketTag == "final" {
			assert.Empty(t, m.WinnerTo)
			continue
		}
		require.NotEmpty(t, m.WinnerTo, m.Slug)
		key := m.WinnerTo + "#" + string(rune('0'+m.WinnerSlot))
		assert.False(t, slots[key], "slot %s fed twice", key)
		slots[key] = true
	}
}

func TestDoubleElimRejectsNonPowerOfTwo(t *testing.T) {
	_, err := doubleElim([]string{"a", "b", "c"})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = doubleElim([]string{"a", "b"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestDoubleElimFourTeams(t *testing.T) {
	matches, err := doubleElim([]string{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, matches, 6) // 2(n-1)

	ms := bySlug(matches)
	wbFinal := ms["wb-r2-m1"]
	lb1 := ms["lb-r1-m1"]
	lbFinal := ms["lb-r2-m1"]
	gf := ms[GrandFinalsSlug]
	require.NotNil(t, wbFinal)
	require.NotNil(t, lb1)
	require.NotNil(t, lbFinal)
	require.NotNil(t, gf)

	assert.Equal(t, "wb-final", wbFinal.BracketTag)
	assert.Equal(t, "lb-final", lbFinal.BracketTag)

	// Round 1 losers pair in the first losers round.
	assert.Equal(t, "lb-r1-m1", ms["a_vs_b"].LoserTo)
	assert.Equal(t, 1, ms["a_vs_b"].LoserSlot)
	assert.Equal(t, "lb-r1-m1", ms["c_vs_d"].LoserTo)
	assert.Equal(t, 2, ms["c_vs_d"].LoserSlot)

	// Winners final loser drops into the losers final.
	assert.Equal(t, "lb-r2-m1", wbFinal.LoserTo)
	assert.Equal(t, 2, wbFinal.LoserSlot)
	assert.Equal(t, GrandFinalsSlug, wbFinal.WinnerTo)
	assert.Equal(t, 1, wbFinal.WinnerSlot)

	assert.Equal(t, "lb-r2-m1", lb1.WinnerTo)
	assert.Equal(t, 1, lb1.WinnerSlot)
	assert.Equal(t, GrandFinalsSlug, lbFinal.WinnerTo)
	assert.Equal(t, 2, lbFinal.WinnerSlot)
}

func TestDoubleElimEightTeamsStructure(t *testing.T) {
	teams := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	matches, err := doubleElim(teams)
	require.NoError(t, err)
	require.Len(t, matches, 14) // 2(n-1)

	ms := bySlug(matches)

	// Losers bracket shape: 2, 2, 1, 1.
	for _, want := range []struct {
		slug string
	}{
		{"lb-r1-m1"}, {"lb-r1-m2"},
		{"lb-r2-m1"}, {"lb-r2-m2"},
		{"lb-r3-m1"},
		{"lb-r4-m1"},
	} {
		require.NotNil(t, ms[want.slug], want.slug)
	}

	// Even winners rounds drop losers in reversed order to delay rematches:
	// wb-r2-m1 loser goes to lb-r2-m2, wb-r2-m2 loser to lb-r2-m1.
	assert.Equal(t, "lb-r2-m2", ms["wb-r2-m1"].LoserTo)
	assert.Equal(t, "lb-r2-m1", ms["wb-r2-m2"].LoserTo)

	// Every match except both finals feeds a winner somewhere.
	for _, m := range matches {
		if m.Slug == GrandFinalsSlug {
			assert.Empty(t, m.WinnerTo)
			continue
		}
		assert.NotEmpty(t, m.WinnerTo, m.Slug)
	}
}

func TestGrandFinalReset(t *testing.T) {
	gf := &store.Match{
		Slug:        GrandFinalsSlug,
		Round:       7,
		MatchNumber: 1,
		Team1:       "upper",
		Team2:       "lower",
	}
	reset := GrandFinalReset(gf)

	assert.Equal(t, "grand-finals-2", reset.Slug)
	assert.Equal(t, 8, reset.Round)
	assert.Equal(t, "lower", reset.Team1)
	assert.Equal(t, "upper", reset.Team2)
}

func TestRoundRobinEveryPairOnce(t *testing.T) {
	for _, teams := range [][]string{
		{"a", "b", "c", "d"},
		{"a", "b", "c", "d", "e"},
	} {
		matches, err := roundRobin(teams)
		require.NoError(t, err)

		n := len(teams)
		assert.Len(t, matches, n*(n-1)/2)

		seen := map[[2]string]int{}
		for _, m := range matches {
			seen[pairKey(m.Team1, m.Team2)]++
		}
		for pair, count := range seen {
			assert.Equal(t, 1, count, "pair %v", pair)
		}

		// Within a round no team plays twice.
		perRound := map[int]map[string]bool{}
		for _, m := range matches {
			if perRound[m.Round] == nil {
				perRound[m.Round] = map[string]bool{}
			}
			for _, id := range []string{m.Team1, m.Team2} {
				assert.False(t, perRound[m.Round][id], "team %s twice in round %d", id, m.Round)
				perRound[m.Round][id] = true
			}
		}
	}
}

func TestSwissFirstRound(t *testing.T) {
	tr := &store.Tournament{
		Type:    store.TypeSwiss,
		TeamIDs: []string{"a", "b", "c", "d"},
	}
	matches, err := Generate(tr)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "a_vs_b", matches[0].Slug)
	assert.Equal(t, "c_vs_d", matches[1].Slug)
	assert.Equal(t, "swiss-r1", matches[0].BracketTag)
}

func TestSwissOddTeamsGetsBye(t *testing.T) {
	matches := swissRound([]string{"a", "b", "c"}, 1, nil)
	require.Len(t, matches, 2)
	assert.Equal(t, "a_vs_b", matches[0].Slug)

	bye := matches[1]
	assert.True(t, bye.Walkover)
	assert.Equal(t, "c", bye.Team1)
	assert.Empty(t, bye.Team2)
}

func TestNextSwissRoundPairsByScore(t *testing.T) {
	tr := &store.Tournament{
		Type:    store.TypeSwiss,
		TeamIDs: []string{"a", "b", "c", "d"},
	}
	round1 := []*store.Match{
		{Slug: "a_vs_b", Round: 1, Team1: "a", Team2: "b", Status: store.MatchCompleted, Winner: "a"},
		{Slug: "c_vs_d", Round: 1, Team1: "c", Team2: "d", Status: store.MatchCompleted, Winner: "c"},
	}

	round2 := NextSwissRound(tr, round1)
	require.Len(t, round2, 2)

	// Winners meet winners, losers meet losers; slugs carry the round.
	assert.Equal(t, "a_vs_c-r2", round2[0].Slug)
	assert.Equal(t, "b_vs_d-r2", round2[1].Slug)
	assert.Equal(t, 2, round2[0].Round)
	assert.Equal(t, "swiss-r2", round2[0].BracketTag)
}

func TestNextSwissRoundWaitsForCompletion(t *testing.T) {
	tr := &store.Tournament{Type: store.TypeSwiss, TeamIDs: []string{"a", "b", "c", "d"}}
	running := []*store.Match{
		{Slug: "a_vs_b", Round: 1, Team1: "a", Team2: "b", Status: store.MatchCompleted, Winner: "a"},
		{Slug: "c_vs_d", Round: 1, Team1: "c", Team2: "d", Status: store.MatchLive},
	}
	assert.Nil(t, NextSwissRound(tr, running))
}

func TestNextSwissRoundStopsAfterTotalRounds(t *testing.T) {
	tr := &store.Tournament{Type: store.TypeSwiss, TeamIDs: []string{"a", "b", "c", "d"}}
	require.Equal(t, 2, SwissTotalRounds(4))

	done := []*store.Match{
		{Slug: "a_vs_b", Round: 1, Team1: "a", Team2: "b", Status: store.MatchCompleted, Winner: "a"},
		{Slug: "c_vs_d", Round: 1, Team1: "c", Team2: "d", Status: store.MatchCompleted, Winner: "c"},
		{Slug: "a_vs_c-r2", Round: 2, Team1: "a", Team2: "c", Status: store.MatchCompleted, Winner: "a"},
		{Slug: "b_vs_d-r2", Round: 2, Team1: "b", Team2: "d", Status: store.MatchCompleted, Winner: "d"},
	}
	assert.Nil(t, NextSwissRound(tr, done))
}

func TestNextSwissRoundAvoidsRematchWhenPossible(t *testing.T) {
	tr := &store.Tournament{Type: store.TypeSwiss, TeamIDs: []string{"a", "b", "c", "d", "e", "f", "g", "h"}}
	round1 := []*store.Match{
		{Slug: "a_vs_b", Round: 1, Team1: "a", Team2: "b", Status: store.MatchCompleted, Winner: "a"},
		{Slug: "c_vs_d", Round: 1, Team1: "c", Team2: "d", Status: store.MatchCompleted, Winner: "c"},
		{Slug: "e_vs_f", Round: 1, Team1: "e", Team2: "f", Status: store.MatchCompleted, Winner: "e"},
		{Slug: "g_vs_h", Round: 1, Team1: "g", Team2: "h", Status: store.MatchCompleted, Winner: "g"},
	}

	round2 := NextSwissRound(tr, round1)
	require.Len(t, round2, 4)
	for _, m := range round2 {
		for _, prev := range round1 {
			assert.False(t,
				pairKey(m.Team1, m.Team2) == pairKey(prev.Team1, prev.Team2),
				"%s rematches %s", m.Slug, prev.Slug)
		}
	}
}

func TestGenerateUnknownType(t *testing.T) {
	_, err := Generate(&store.Tournament{Type: "ladder", TeamIDs: []string{"a", "b"}})
	assert.ErrorIs(t, err, store.ErrValidation)
}
