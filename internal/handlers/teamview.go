package handlers

import (
	"sort"
	"strconv"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// teamCurrentMatch is the public "where do I go" view a team polls: its
// active match, which side it is, and the server address once one is bound.
func (h *Handlers) teamCurrentMatch(re *core.RequestEvent) error {
	teamID := re.Request.PathValue("teamId")
	if _, err := store.FindTeam(re.App, teamID); err != nil {
		return fail(re, err)
	}

	tournamentStatus := ""
	if t, err := store.GetTournament(re.App); err == nil {
		tournamentStatus = t.Status
	}

	matches, err := store.FindMatchesForTeam(re.App, teamID)
	if err != nil {
		return fail(re, err)
	}

	var current *store.Match
	for _, m := range matches {
		if m.Status != store.MatchCompleted {
			current = m
			break
		}
	}
	if current == nil {
		return ok(re, map[string]any{
			"match":            nil,
			"tournamentStatus": tournamentStatus,
		})
	}

	body := map[string]any{
		"match":            current,
		"isTeam1":          current.Team1 == teamID,
		"tournamentStatus": tournamentStatus,
	}

	// The server address is only revealed once the match is actually on one.
	if current.Server != "" && (current.Status == store.MatchLoaded || current.Status == store.MatchLive) {
		if srv, err := store.FindServer(re.App, current.Server); err == nil {
			body["server"] = map[string]any{
				"id":   srv.ID,
				"name": srv.Name,
				"host": srv.Host,
				"port": srv.Port,
			}
		}
	}
	if stats, found := h.tracker.Snapshot(current.Slug); found {
		body["liveStats"] = stats
	}
	return ok(re, body)
}

func (h *Handlers) teamHistory(re *core.RequestEvent) error {
	teamID := re.Request.PathValue("teamId")
	if _, err := store.FindTeam(re.App, teamID); err != nil {
		return fail(re, err)
	}

	limit := 10
	if raw := re.Request.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	matches, err := store.FindMatchesForTeam(re.App, teamID)
	if err != nil {
		return fail(re, err)
	}

	completed := make([]*store.Match, 0, len(matches))
	for _, m := range matches {
		if m.Status == store.MatchCompleted {
			completed = append(completed, m)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CompletedAt.After(completed[j].CompletedAt)
	})
	if len(completed) > limit {
		completed = completed[:limit]
	}

	return ok(re, map[string]any{"matches": completed, "count": len(completed)})
}

func (h *Handlers) teamStats(re *core.RequestEvent) error {
	teamID := re.Request.PathValue("teamId")
	team, err := store.FindTeam(re.App, teamID)
	if err != nil {
		return fail(re, err)
	}

	matches, err := store.FindMatchesForTeam(re.App, teamID)
	if err != nil {
		return fail(re, err)
	}

	var wins, losses, mapsWon, mapsLost, roundsWon, roundsLost int
	for _, m := range matches {
		if m.Status != store.MatchCompleted || m.Winner == "" {
			continue
		}
		isTeam1 := m.Team1 == teamID
		if m.Winner == teamID {
			wins++
		} else {
			losses++
		}
		for _, r := range m.MapResults {
			t1, t2 := r.Team1Score, r.Team2Score
			if !isTeam1 {
				t1, t2 = t2, t1
			}
			roundsWon += t1
			roundsLost += t2
			if t1 > t2 {
				mapsWon++
			} else if t2 > t1 {
				mapsLost++
			}
		}
	}

	return ok(re, map[string]any{
		"team": team,
		"stats": map[string]any{
			"matchesPlayed": wins + losses,
			"wins":          wins,
			"losses":        losses,
			"mapsWon":       mapsWon,
			"mapsLost":      mapsLost,
			"roundsWon":     roundsWon,
			"roundsLost":    roundsLost,
		},
	})
}
