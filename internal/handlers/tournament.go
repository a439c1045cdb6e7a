package handlers

import (
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

func (h *Handlers) getTournament(re *core.RequestEvent) error {
	t, err := store.GetTournament(re.App)
	if err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"tournament": t})
}

// putTournament replaces the singleton tournament. Structural changes are
// rejected unless the tournament is in setup; the store enforces that.
func (h *Handlers) putTournament(re *core.RequestEvent) error {
	var t store.Tournament
	if err := re.BindBody(&t); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}
	t.Status = store.TournamentSetup

	if err := store.UpsertTournament(re.App, &t); err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"tournament": &t})
}

func (h *Handlers) startTournament(re *core.RequestEvent) error {
	var req struct {
		BaseURL string `json:"baseUrl"`
	}
	re.BindBody(&req) // empty body means "use the configured base URL"

	allocated, err := h.sched.StartTournament(req.BaseURL)
	if err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"success": true, "allocated": allocated})
}

func (h *Handlers) resetTournament(re *core.RequestEvent) error {
	if err := h.sched.Reset(); err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"success": true})
}

func (h *Handlers) wipeDatabase(re *core.RequestEvent) error {
	if err := h.sched.Wipe(); err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"success": true})
}

func (h *Handlers) wipeTable(re *core.RequestEvent) error {
	table := re.Request.PathValue("table")
	if err := store.WipeTable(re.App, table); err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"success": true, "table": table})
}

func (h *Handlers) bracketView(re *core.RequestEvent) error {
	t, err := store.GetTournament(re.App)
	if err != nil {
		return fail(re, err)
	}
	matches, err := store.ListMatches(re.App)
	if err != nil {
		return fail(re, err)
	}

	totalRounds := 0
	for _, m := range matches {
		if m.Round > totalRounds {
			totalRounds = m.Round
		}
	}

	return ok(re, map[string]any{
		"tournament":  t,
		"matches":     matches,
		"totalRounds": totalRounds,
	})
}
