// Package match owns the per-match lifecycle: status transitions, walkover
// completion, map results and series winner derivation. Every function here
// mutates only the in-memory record; persisting the result (and retrying on
// a stale version) is the caller's job.
package match

import (
	"fmt"
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// legal transitions, keyed by current status.
var transitions = map[string][]string{
	store.MatchPending: {store.MatchReady},
	store.MatchReady:   {store.MatchLoaded, store.MatchCompleted},
	store.MatchLoaded:  {store.MatchLive, store.MatchReady},
	store.MatchLive:    {store.MatchLive, store.MatchCompleted},
}

// CanTransition reports whether from -> to is a legal status change.
// loaded -> ready is the demotion path when a config push or server probe
// fails; ready -> completed is the walkover path.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func transitionErr(m *store.Match, to string) error {
	return fmt.Errorf("%w: match %s cannot go %s -> %s", store.ErrConflict, m.Slug, m.Status, to)
}

// MarkReady promotes a pending match once both team slots are resolved.
func MarkReady(m *store.Match, now time.Time) error {
	if !CanTransition(m.Status, store.MatchReady) {
		return transitionErr(m, store.MatchReady)
	}
	if !m.HasBothTeams() {
		return fmt.Errorf("%w: match %s is missing a team", store.ErrConflict, m.Slug)
	}
	m.Status = store.MatchReady
	m.ReadyAt = now
	return nil
}

// MarkLoaded binds a server to a ready match whose veto has finished. The
// caller must have already pushed the config to the server.
func MarkLoaded(m *store.Match, serverID string, now time.Time) error {
	if !CanTransition(m.Status, store.MatchLoaded) {
		return transitionErr(m, store.MatchLoaded)
	}
	if serverID == "" {
		return fmt.Errorf("%w: match %s needs a server to load", store.ErrConflict, m.Slug)
	}
	if !m.VetoCompleted {
		return fmt.Errorf("%w: match %s veto is not complete", store.ErrConflict, m.Slug)
	}
	m.Status = store.MatchLoaded
	m.Server = serverID
	m.MatchPhase = store.PhaseWarmup
	m.LoadedAt = now
	return nil
}

// Demote sends a loaded match back to ready, releasing its server. Used when
// the config push fails after retries or a probe finds the server gone.
func Demote(m *store.Match) error {
	if !CanTransition(m.Status, store.MatchReady) {
		return transitionErr(m, store.MatchReady)
	}
	m.Status = store.MatchReady
	m.Server = ""
	m.MatchPhase = store.PhaseNone
	m.LoadedAt = time.Time{}
	return nil
}

// MarkLive records the series starting on the server.
func MarkLive(m *store.Match, now time.Time) error {
	if m.Status == store.MatchLive {
		return nil
	}
	if !CanTransition(m.Status, store.MatchLive) {
		return transitionErr(m, store.MatchLive)
	}
	m.Status = store.MatchLive
	m.MatchPhase = store.PhaseLive
	if m.LoadedAt.IsZero() {
		m.LoadedAt = now
	}
	return nil
}

// Complete finishes a live match with the winning team. The winner must be
// one of the two participants; the server binding is released.
func Complete(m *store.Match, winner string, now time.Time) error {
	if !CanTransition(m.Status, store.MatchCompleted) {
		return transitionErr(m, store.MatchCompleted)
	}
	if m.TeamSlot(winner) == "" {
		return fmt.Errorf("%w: %q is not a team of match %s", store.ErrValidation, winner, m.Slug)
	}
	m.Status = store.MatchCompleted
	m.MatchPhase = store.PhasePostMatch
	m.Winner = winner
	m.Server = ""
	m.CompletedAt = now
	return nil
}

// CompleteWalkover finishes a match whose opposing slot is known absent.
// The occupied slot wins without server allocation.
func CompleteWalkover(m *store.Match, now time.Time) error {
	if m.Status == store.MatchCompleted {
		return nil
	}
	winner := m.Team1
	if winner == "" {
		winner = m.Team2
	}
	if winner == "" || m.HasBothTeams() {
		return fmt.Errorf("%w: match %s is not a walkover", store.ErrConflict, m.Slug)
	}
	m.Status = store.MatchCompleted
	m.Winner = winner
	m.Server = ""
	m.Walkover = true
	m.DemoFilePaths = []string{}
	m.CompletedAt = now
	return nil
}

// ApplyMapResult appends one finished map and bumps the series score of the
// map winner. A result for an already-recorded map number is replaced, which
// keeps a re-posted webhook from double counting.
func ApplyMapResult(m *store.Match, res store.MapResult) {
	for i, prev := range m.MapResults {
		if prev.MapNumber == res.MapNumber {
			if prev.DemoFilePath != "" && res.DemoFilePath == "" {
				res.DemoFilePath = prev.DemoFilePath
			}
			m.MapResults[i] = res
			recountSeries(m)
			return
		}
	}
	m.MapResults = append(m.MapResults, res)
	if res.Team1Score > res.Team2Score {
		m.Team1SeriesScore++
	} else if res.Team2Score > res.Team1Score {
		m.Team2SeriesScore++
	}
}

func recountSeries(m *store.Match) {
	m.Team1SeriesScore = 0
	m.Team2SeriesScore = 0
	for _, r := range m.MapResults {
		if r.Team1Score > r.Team2Score {
			m.Team1SeriesScore++
		} else if r.Team2Score > r.Team1Score {
			m.Team2SeriesScore++
		}
	}
}

// SeriesWinner returns the team id with the strictly greater series score,
// or "" while the series is tied.
func SeriesWinner(m *store.Match) string {
	switch {
	case m.Team1SeriesScore > m.Team2SeriesScore:
		return m.Team1
	case m.Team2SeriesScore > m.Team1SeriesScore:
		return m.Team2
	}
	return ""
}

// NeedsTiebreak reports whether an even-length series has played out to a
// tie and needs one extra map before it can complete.
func NeedsTiebreak(m *store.Match) bool {
	n := m.Config.NumMaps
	if n == 0 || n%2 == 1 {
		return false
	}
	return m.Team1SeriesScore == m.Team2SeriesScore &&
		m.Team1SeriesScore+m.Team2SeriesScore >= n
}
