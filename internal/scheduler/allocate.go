package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/rcon"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// allocate pairs ready matches whose veto finished with available servers,
// in (round, match number, created) order. The server is reserved in this
// cycle's working set while the config push runs; the binding only
// persists after a successful push, so a crash mid-push leaves the match
// ready and the server free.
func (s *Scheduler) allocate() {
	ready, err := store.ListMatchesByStatus(s.app, store.MatchReady)
	if err != nil {
		return
	}
	servers, err := store.AvailableServers(s.app)
	if err != nil {
		return
	}
	if len(servers) == 0 {
		return
	}

	next := 0
	for _, m := range ready {
		if next >= len(servers) {
			return
		}
		if !m.VetoCompleted || !m.HasBothTeams() {
			continue
		}

		srv := servers[next]
		if err := s.loadOnto(m, srv, false); err != nil {
			s.logger.Warn("allocation failed, server released",
				"slug", m.Slug, "server", srv.ID, "error", err)
			s.recordWarning(m.Slug, fmt.Sprintf("config push to %s failed: %v", srv.ID, err))
			continue
		}
		next++
	}
}

// loadOnto pushes the match config to a server and persists the binding.
// skipPush loads the match record without touching the server, for setups
// where the operator wires the server by hand.
func (s *Scheduler) loadOnto(m *store.Match, srv *store.Server, skipPush bool) error {
	if !skipPush {
		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.Scheduler.RconRetries*3)*s.cfg.RconTimeout())
		defer cancel()

		err := rcon.PushMatch(ctx, s.commander, srv, m.Slug, rcon.PushConfig{
			BaseURL:     s.base(),
			ServerToken: s.cfg.ServerToken,
			Retries:     s.cfg.Scheduler.RconRetries,
		})
		if err != nil {
			return err
		}
	}

	mutated, err := store.MutateMatch(s.app, m.Slug, func(m *store.Match) error {
		return match.MarkLoaded(m, srv.ID, time.Now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("match loaded", "slug", mutated.Slug, "server", srv.ID)
	s.events.MatchChanged(hub.MatchUpdate{
		Slug:     mutated.Slug,
		Status:   store.MatchLoaded,
		ServerID: srv.ID,
	})
	s.events.BracketChanged(hub.BracketUpdate{
		Action:    hub.ActionMatchLoaded,
		MatchSlug: mutated.Slug,
		Status:    store.MatchLoaded,
		ServerID:  srv.ID,
	})
	s.events.BracketChanged(hub.BracketUpdate{
		Action:    hub.ActionServerAssigned,
		MatchSlug: mutated.Slug,
		ServerID:  srv.ID,
	})
	return nil
}

// LoadMatch force-loads one match onto the first available server,
// regardless of veto state. Backs the manual load route.
func (s *Scheduler) LoadMatch(slug string, skipPush bool) error {
	m, err := store.FindMatch(s.app, slug)
	if err != nil {
		return err
	}
	if m.Status != store.MatchReady {
		return fmt.Errorf("%w: match %s is %s, not ready", store.ErrConflict, slug, m.Status)
	}
	if !m.VetoCompleted {
		// Manual load implies the operator accepts the pool order.
		if _, err := store.MutateMatch(s.app, slug, func(m *store.Match) error {
			m.VetoCompleted = true
			if len(m.Config.Maplist) == 0 {
				t, err := store.GetTournament(s.app)
				if err != nil {
					return err
				}
				if m.Config.NumMaps == 0 || m.Config.NumMaps > len(t.MapPool) {
					return fmt.Errorf("%w: map pool cannot cover the series", store.ErrConflict)
				}
				m.Config.Maplist = t.MapPool[:m.Config.NumMaps]
			}
			return nil
		}); err != nil {
			return err
		}
		m, err = store.FindMatch(s.app, slug)
		if err != nil {
			return err
		}
	}

	servers, err := store.AvailableServers(s.app)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return fmt.Errorf("%w: no server available", store.ErrConflict)
	}
	return s.loadOnto(m, servers[0], skipPush)
}

// probeStale checks loaded matches that have produced no events for the
// probe window. An unreachable server demotes the match back to ready and
// frees the server for the next cycle.
func (s *Scheduler) probeStale() {
	loaded, err := store.ListMatchesByStatus(s.app, store.MatchLoaded)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-s.cfg.ProbeAfter())

	for _, m := range loaded {
		if m.LoadedAt.IsZero() || m.LoadedAt.After(cutoff) {
			continue
		}
		if last, err := store.LastEventTime(s.app, m.Slug); err == nil && last.After(cutoff) {
			continue
		}

		srv, err := store.FindServer(s.app, m.Server)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RconTimeout())
		_, probeErr := s.commander.SendCommand(ctx, srv, "status")
		cancel()
		if probeErr == nil {
			continue
		}

		s.logger.Warn("loaded match unreachable, demoting",
			"slug", m.Slug, "server", srv.ID, "error", probeErr)
		s.recordWarning(m.Slug, fmt.Sprintf("server %s unreachable during load: %v", srv.ID, probeErr))

		if _, err := store.MutateMatch(s.app, m.Slug, func(m *store.Match) error {
			return match.Demote(m)
		}); err != nil {
			s.logger.Error("demotion failed", "slug", m.Slug, "error", err)
			continue
		}
		s.events.MatchChanged(hub.MatchUpdate{Slug: m.Slug, Status: store.MatchReady})
		s.events.BracketChanged(hub.BracketUpdate{
			Action:    hub.ActionMatchStatus,
			MatchSlug: m.Slug,
			Status:    store.MatchReady,
		})
	}
}

// recordWarning appends an operational warning to the match event log.
func (s *Scheduler) recordWarning(slug, message string) {
	payload, _ := json.Marshal(map[string]string{
		"matchid": slug,
		"event":   "scheduler_warning",
		"message": message,
	})
	ev := &store.MatchEvent{
		MatchSlug: slug,
		Kind:      "scheduler_warning",
		Payload:   payload,
	}
	if err := store.AppendEvent(s.app, ev); err != nil {
		s.logger.Error("warning event append failed", "slug", slug, "error", err)
	}
}
