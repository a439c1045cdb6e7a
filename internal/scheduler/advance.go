package scheduler

import (
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/bracket"
	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// advanceBracket propagates winners and losers of completed matches into
// the child slots laid down at generation time, promotes children whose
// slots filled, creates the next swiss round, and arranges the double-elim
// bracket reset. Every step is a slot-guarded patch, so replaying a cycle
// after a crash changes nothing.
func (s *Scheduler) advanceBracket(t *store.Tournament) {
	matches, err := store.ListMatches(s.app)
	if err != nil {
		return
	}

	for _, m := range matches {
		if m.Status != store.MatchCompleted || m.Winner == "" {
			continue
		}
		if m.WinnerTo != "" {
			s.fillSlot(t, m.WinnerTo, m.WinnerSlot, m.Winner)
		}
		if m.LoserTo != "" {
			if loser := otherTeam(m); loser != "" {
				s.fillSlot(t, m.LoserTo, m.LoserSlot, loser)
			}
		}
	}

	if t.Type == store.TypeSwiss {
		s.nextSwissRound(t, matches)
	}
	if t.Type == store.TypeDoubleElim && s.resetOwed(matches) {
		s.createGrandFinalReset(t, matches)
	}
}

func otherTeam(m *store.Match) string {
	switch m.Winner {
	case m.Team1:
		return m.Team2
	case m.Team2:
		return m.Team1
	}
	return ""
}

// fillSlot writes a team into a child slot if it is still empty and
// promotes the child once both slots are occupied.
func (s *Scheduler) fillSlot(t *store.Tournament, childSlug string, slot int, teamID string) {
	promoted := false
	mutated, err := store.MutateMatch(s.app, childSlug, func(child *store.Match) error {
		promoted = false
		switch slot {
		case 1:
			if child.Team1 == teamID {
				// already propagated
			} else if child.Team1 != "" {
				return nil // occupied by someone else, leave alone
			} else {
				child.Team1 = teamID
			}
		case 2:
			if child.Team2 == teamID {
			} else if child.Team2 != "" {
				return nil
			} else {
				child.Team2 = teamID
			}
		default:
			return nil
		}

		if child.HasBothTeams() && child.Status == store.MatchPending {
			if err := s.populateConfig(t, child); err != nil {
				return err
			}
			if err := match.MarkReady(child, time.Now()); err != nil {
				return err
			}
			promoted = true
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("bracket advance failed", "child", childSlug, "team", teamID, "error", err)
		return
	}

	if promoted {
		s.logger.Info("match ready", "slug", mutated.Slug, "team1", mutated.Team1, "team2", mutated.Team2)
		s.events.BracketChanged(hub.BracketUpdate{
			Action:    hub.ActionMatchReady,
			MatchSlug: mutated.Slug,
			Status:    store.MatchReady,
		})
	}
}

func (s *Scheduler) nextSwissRound(t *store.Tournament, matches []*store.Match) {
	next := bracket.NextSwissRound(t, matches)
	if next == nil {
		return
	}

	now := time.Now()
	for _, m := range next {
		if err := s.populateConfig(t, m); err != nil {
			s.logger.Error("swiss round config failed", "slug", m.Slug, "error", err)
			return
		}
		if m.HasBothTeams() {
			m.Status = store.MatchReady
			m.ReadyAt = now
		}
	}
	if err := store.CreateMatches(s.app, next); err != nil {
		s.logger.Error("swiss round creation failed", "round", next[0].Round, "error", err)
		return
	}
	s.logger.Info("swiss round generated", "round", next[0].Round, "matches", len(next))
	s.events.BracketChanged(hub.BracketUpdate{Action: hub.ActionBracketRegenerated})
}

func (s *Scheduler) createGrandFinalReset(t *store.Tournament, matches []*store.Match) {
	var gf *store.Match
	for _, m := range matches {
		if m.Slug == bracket.GrandFinalsSlug {
			gf = m
			break
		}
	}
	if gf == nil {
		return
	}

	reset := bracket.GrandFinalReset(gf)
	if err := s.populateConfig(t, reset); err != nil {
		s.logger.Error("grand final reset config failed", "error", err)
		return
	}
	reset.Status = store.MatchReady
	reset.ReadyAt = time.Now()

	if err := store.CreateMatches(s.app, []*store.Match{reset}); err != nil {
		s.logger.Error("grand final reset creation failed", "error", err)
		return
	}
	s.logger.Info("grand final reset generated", "slug", reset.Slug)
	s.events.BracketChanged(hub.BracketUpdate{
		Action:    hub.ActionBracketRegenerated,
		MatchSlug: reset.Slug,
	})
}

// arrangeTiebreaks extends a tied even-length series with one more map
// from the tournament pool. The plugin keeps the series running on the
// same server, so no reallocation is involved.
func (s *Scheduler) arrangeTiebreaks(t *store.Tournament) {
	live, err := store.ListMatchesByStatus(s.app, store.MatchLive)
	if err != nil {
		return
	}
	for _, m := range live {
		if !match.NeedsTiebreak(m) || len(m.Config.Maplist) > m.Config.NumMaps {
			continue
		}
		extra := pickUnusedMap(t.MapPool, m.Config.Maplist)
		if extra == "" {
			s.logger.Error("tiebreak needed but map pool exhausted", "slug", m.Slug)
			continue
		}
		_, err := store.MutateMatch(s.app, m.Slug, func(m *store.Match) error {
			if !match.NeedsTiebreak(m) {
				return nil
			}
			m.Config.Maplist = append(m.Config.Maplist, extra)
			m.Config.NumMaps++
			return nil
		})
		if err != nil {
			s.logger.Warn("tiebreak arrangement failed", "slug", m.Slug, "error", err)
			continue
		}
		s.logger.Info("tiebreak map added", "slug", m.Slug, "map", extra)
		s.events.MatchChanged(hub.MatchUpdate{Slug: m.Slug, Action: "tiebreak_added"})
	}
}

func pickUnusedMap(pool, used []string) string {
	for _, candidate := range pool {
		taken := false
		for _, u := range used {
			if u == candidate {
				taken = true
				break
			}
		}
		if !taken {
			return candidate
		}
	}
	return ""
}
