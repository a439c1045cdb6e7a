package scheduler

import (
	"errors"
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
	"github.com/sivert-io/matchzy-auto-tournament/internal/veto"
)

// driveVetoes makes sure every ready match has a veto running and acts on
// behalf of teams that let their step deadline pass. A non-positive step
// timeout auto-resolves the whole veto at once.
func (s *Scheduler) driveVetoes(t *store.Tournament) {
	ready, err := store.ListMatchesByStatus(s.app, store.MatchReady)
	if err != nil {
		return
	}

	for _, m := range ready {
		if m.VetoCompleted || !m.HasBothTeams() {
			continue
		}

		v, err := store.FindVetoState(s.app, m.Slug)
		switch {
		case errors.Is(err, store.ErrNotFound):
			v, err = s.startVeto(t, m)
			if err != nil {
				s.logger.Error("veto start failed", "slug", m.Slug, "error", err)
				continue
			}
		case err != nil:
			continue
		}

		if !v.Complete && v.VetoDeadlinePassed(time.Now()) {
			if err := veto.AutoAct(v, t.Format); err != nil {
				s.logger.Warn("veto auto-act failed", "slug", m.Slug, "error", err)
				continue
			}
			if !v.Complete {
				v.Deadline = time.Now().Add(s.cfg.VetoStep())
			}
			if err := store.SaveVetoState(s.app, v); err != nil {
				s.logger.Error("veto save failed", "slug", m.Slug, "error", err)
				continue
			}
			s.events.MatchChanged(hub.MatchUpdate{Slug: m.Slug, Action: "veto_step"})
		}

		if v.Complete {
			s.finishVeto(m.Slug, v)
		}
	}
}

// startVeto initializes the veto for a match. With a negative step timeout
// every step is performed immediately by the scheduler, which is also the
// single-map-pool path: the veto completes before anyone acts.
func (s *Scheduler) startVeto(t *store.Tournament, m *store.Match) (*store.VetoState, error) {
	deadline := time.Now().Add(s.cfg.VetoStep())
	v, err := veto.New(m.Slug, t.Format, t.MapPool, deadline)
	if err != nil {
		return nil, err
	}

	if s.cfg.Scheduler.VetoStepSeconds < 0 {
		for !v.Complete {
			if err := veto.AutoAct(v, t.Format); err != nil {
				return nil, err
			}
		}
	}

	if err := store.SaveVetoState(s.app, v); err != nil {
		return nil, err
	}
	s.logger.Info("veto started", "slug", m.Slug, "format", t.Format, "pool", len(t.MapPool))
	return v, nil
}

// finishVeto records the picked maps on the match and flags it ready for
// allocation.
func (s *Scheduler) finishVeto(slug string, v *store.VetoState) {
	_, err := store.MutateMatch(s.app, slug, func(m *store.Match) error {
		if m.VetoCompleted {
			return nil
		}
		m.VetoCompleted = true
		m.Config.Maplist = v.PickedMaps
		m.Config.NumMaps = len(v.PickedMaps)
		return nil
	})
	if err != nil {
		s.logger.Error("veto completion failed", "slug", slug, "error", err)
		return
	}
	s.logger.Info("veto complete", "slug", slug, "maps", v.PickedMaps)
	s.events.MatchChanged(hub.MatchUpdate{Slug: slug, Action: "veto_complete"})
}
