package scheduler

import (
	"fmt"
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/bracket"
	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// StartTournament generates the bracket, persists it atomically and moves
// the tournament to in_progress. Returns how many matches were allocated a
// server in the immediate first cycle.
func (s *Scheduler) StartTournament(baseURL string) (int, error) {
	t, err := store.GetTournament(s.app)
	if err != nil {
		return 0, err
	}
	if t.Status == store.TournamentInProgress {
		return 0, fmt.Errorf("%w: tournament already started", store.ErrConflict)
	}
	if t.Status == store.TournamentCompleted {
		return 0, fmt.Errorf("%w: tournament is completed, reset it first", store.ErrConflict)
	}

	matches, err := bracket.Generate(t)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for _, m := range matches {
		if err := s.populateConfig(t, m); err != nil {
			return 0, err
		}
		if m.HasBothTeams() {
			m.Status = store.MatchReady
			m.ReadyAt = now
		}
	}

	if err := store.CreateMatches(s.app, matches); err != nil {
		return 0, err
	}
	if err := store.SetTournamentStatus(s.app, store.TournamentInProgress); err != nil {
		return 0, err
	}

	s.setBase(baseURL)
	s.logger.Info("tournament started", "type", t.Type, "format", t.Format, "matches", len(matches))
	s.events.TournamentChanged(hub.ActionTournamentStarted)
	s.events.BracketChanged(hub.BracketUpdate{Action: hub.ActionBracketRegenerated})

	// One synchronous cycle so the caller sees the first allocations.
	allocatedBefore := s.countLoaded()
	s.RunCycle()
	return s.countLoaded() - allocatedBefore, nil
}

func (s *Scheduler) countLoaded() int {
	loaded, err := store.ListMatchesByStatus(s.app, store.MatchLoaded)
	if err != nil {
		return 0
	}
	return len(loaded)
}

// Reset wipes matches and events and returns the tournament to setup.
func (s *Scheduler) Reset() error {
	if err := store.ResetTournament(s.app); err != nil {
		return err
	}
	s.logger.Info("tournament reset")
	s.events.TournamentChanged(hub.ActionTournamentReset)
	s.events.BracketChanged(hub.BracketUpdate{Action: hub.ActionTournamentReset})
	return nil
}

// Wipe removes everything: teams, servers, tournament, matches, events.
func (s *Scheduler) Wipe() error {
	if err := store.WipeAll(s.app); err != nil {
		return err
	}
	s.logger.Warn("database wiped")
	s.events.TournamentChanged(hub.ActionTournamentReset)
	return nil
}

// populateConfig fills the plugin config document for every match whose
// teams are known. Placeholder matches get theirs when the slots fill.
func (s *Scheduler) populateConfig(t *store.Tournament, m *store.Match) error {
	numMaps, err := store.NumMapsForFormat(t.Format)
	if err != nil {
		return err
	}
	m.Config.NumMaps = numMaps
	if m.Config.PlayersPerTeam == 0 {
		m.Config.PlayersPerTeam = 5
	}
	m.Config.ExpectedPlayersTotal = m.Config.PlayersPerTeam * 2

	fill := func(id string, side *store.ConfigTeam) error {
		if id == "" {
			return nil
		}
		team, err := store.FindTeam(s.app, id)
		if err != nil {
			return err
		}
		side.Name = team.Name
		side.Players = make(map[string]string, len(team.Players))
		for _, p := range team.Players {
			side.Players[p.SteamID] = p.Name
		}
		return nil
	}
	if err := fill(m.Team1, &m.Config.Team1); err != nil {
		return err
	}
	return fill(m.Team2, &m.Config.Team2)
}

// maybeCompleteTournament finishes the tournament once no match can
// produce further work. Runs after the generation steps of the same cycle,
// so a pending swiss round or grand-final reset blocks completion.
func (s *Scheduler) maybeCompleteTournament(t *store.Tournament) {
	matches, err := store.ListMatches(s.app)
	if err != nil || len(matches) == 0 {
		return
	}
	for _, m := range matches {
		if m.Status != store.MatchCompleted {
			return
		}
	}

	// Swiss rounds still owed?
	if t.Type == store.TypeSwiss {
		if next := bracket.NextSwissRound(t, matches); next != nil {
			return
		}
	}

	// Grand-final reset still owed?
	if t.Type == store.TypeDoubleElim && s.resetOwed(matches) {
		return
	}

	if err := store.SetTournamentStatus(s.app, store.TournamentCompleted); err != nil {
		s.logger.Error("could not complete tournament", "error", err)
		return
	}
	s.logger.Info("tournament completed")
	s.events.TournamentChanged(hub.ActionTournamentCompleted)
	s.events.BracketChanged(hub.BracketUpdate{Action: hub.ActionTournamentCompleted})
}

// resetOwed reports whether the losers-bracket champion took the first
// grand final and the rematch does not exist yet.
func (s *Scheduler) resetOwed(matches []*store.Match) bool {
	var gf *store.Match
	hasReset := false
	for _, m := range matches {
		switch m.Slug {
		case bracket.GrandFinalsSlug:
			gf = m
		case bracket.GrandFinalsSlug + "-2":
			hasReset = true
		}
	}
	if gf == nil || hasReset {
		return false
	}
	return gf.Status == store.MatchCompleted && gf.Winner != "" && gf.Winner == gf.Team2
}

// completeWalkovers finishes matches whose opposing slot is known absent.
func (s *Scheduler) completeWalkovers() {
	for _, status := range []string{store.MatchPending, store.MatchReady} {
		matches, err := store.ListMatchesByStatus(s.app, status)
		if err != nil {
			return
		}
		for _, m := range matches {
			if !m.Walkover || m.HasBothTeams() {
				continue
			}
			mutated, err := store.MutateMatch(s.app, m.Slug, func(m *store.Match) error {
				return match.CompleteWalkover(m, time.Now())
			})
			if err != nil {
				s.logger.Warn("walkover completion failed", "slug", m.Slug, "error", err)
				continue
			}
			s.logger.Info("walkover completed", "slug", m.Slug, "winner", mutated.Winner)
			s.events.MatchChanged(hub.MatchUpdate{Slug: m.Slug, Status: store.MatchCompleted})
			s.events.BracketChanged(hub.BracketUpdate{
				Action:    hub.ActionMatchStatus,
				MatchSlug: m.Slug,
				Status:    store.MatchCompleted,
			})
		}
	}
}
