package handlers

import (
	"net/http"
	"strings"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
	"github.com/sivert-io/matchzy-auto-tournament/internal/veto"
)

func (h *Handlers) listMatches(re *core.RequestEvent) error {
	matches, err := store.ListMatches(re.App)
	if err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"matches": matches})
}

// matchDetailOrConfig serves both GET /api/matches/{slug}.json (the public
// config document the plugin fetches) and GET /api/matches/{slug} (the
// operator detail view).
func (h *Handlers) matchDetailOrConfig(re *core.RequestEvent) error {
	slug := re.Request.PathValue("slug")
	if name, isDoc := strings.CutSuffix(slug, ".json"); isDoc {
		return h.matchConfigDoc(re, name)
	}

	if !h.operatorAuthorized(re) {
		return re.JSON(http.StatusUnauthorized, map[string]any{"error": "invalid or missing bearer token"})
	}

	m, err := store.FindMatch(re.App, slug)
	if err != nil {
		return fail(re, err)
	}

	body := map[string]any{"match": m}
	if stats, found := h.tracker.Snapshot(slug); found {
		body["liveStats"] = stats
	}
	if v, err := store.FindVetoState(re.App, slug); err == nil {
		body["veto"] = v
	}
	return ok(re, body)
}

// matchConfigDoc emits the document the plugin loads via
// matchzy_loadmatch_url. The field names are the plugin's wire format.
func (h *Handlers) matchConfigDoc(re *core.RequestEvent, slug string) error {
	m, err := store.FindMatch(re.App, slug)
	if err != nil {
		return fail(re, err)
	}

	mapSides := make([]string, len(m.Config.Maplist))
	for i := range mapSides {
		mapSides[i] = "knife"
	}
	if v, err := store.FindVetoState(re.App, slug); err == nil && v.Complete {
		if sides := veto.MapSides(v); len(sides) > 0 {
			mapSides = sides
		}
	}

	doc := map[string]any{
		"matchid": m.Slug,
		"team1": map[string]any{
			"name":    m.Config.Team1.Name,
			"players": m.Config.Team1.Players,
		},
		"team2": map[string]any{
			"name":    m.Config.Team2.Name,
			"players": m.Config.Team2.Players,
		},
		"maplist":          m.Config.Maplist,
		"num_maps":         m.Config.NumMaps,
		"players_per_team": m.Config.PlayersPerTeam,
		// This system runs the veto itself; the plugin must not start its own.
		"skip_veto": true,
		"map_sides": mapSides,
	}
	return ok(re, doc)
}

func (h *Handlers) loadMatch(re *core.RequestEvent) error {
	slug := re.Request.PathValue("slug")
	skipPush := re.Request.URL.Query().Get("skipWebhook") == "true"

	if err := h.sched.LoadMatch(slug, skipPush); err != nil {
		return fail(re, err)
	}

	m, err := store.FindMatch(re.App, slug)
	if err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"success": true, "match": m})
}
