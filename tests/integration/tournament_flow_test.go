// Package integration drives the full pipeline the way a live event does:
// bracket generation, server allocation over a fake RCON commander, webhook
// events through the interpreter, and bracket advancement back out of the
// scheduler.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pocketbase/pocketbase/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sivert-io/matchzy-auto-tournament/internal/config"
	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/ingest"
	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/scheduler"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
	_ "github.com/sivert-io/matchzy-auto-tournament/migrations"
)

type fakeCommander struct {
	mu       sync.Mutex
	fail     bool
	commands []string
}

func (f *fakeCommander) SendCommand(ctx context.Context, srv *store.Server, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.fail {
		return "", errors.New("connection refused")
	}
	return "ok", nil
}

func (f *fakeCommander) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

type env struct {
	app       *tests.TestApp
	sched     *scheduler.Scheduler
	commander *fakeCommander
	tracker   *match.Tracker
	hub       *hub.Hub
	logger    *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	app, err := tests.NewTestApp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	logger := slog.New(slog.DiscardHandler)
	cfg := &config.Config{
		BaseURL:     "http://control.example:8090",
		ServerToken: "srv-token",
		Scheduler: config.SchedulerConfig{
			TickSeconds:        1,
			VetoStepSeconds:    -1,
			RconTimeoutSeconds: 1,
			RconRetries:        1,
			ProbeAfterMinutes:  5,
		},
	}
	commander := &fakeCommander{}
	h := hub.New(logger)
	return &env{
		app:       app,
		sched:     scheduler.New(app, cfg, commander, h, logger),
		commander: commander,
		tracker:   match.NewTracker(),
		hub:       h,
		logger:    logger,
	}
}

func (e *env) seedTeams(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		team := &store.Team{ID: id, Name: strings.ToUpper(id)}
		for i := 1; i <= 5; i++ {
			team.Players = append(team.Players, store.Player{
				SteamID: fmt.Sprintf("7656119800000%s%d", id, i),
				Name:    fmt.Sprintf("%s-player-%d", id, i),
			})
		}
		require.NoError(t, store.UpsertTeam(e.app, team))
	}
}

func (e *env) seedServers(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, store.UpsertServer(e.app, &store.Server{
			ID: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("s%d", i),
			Host: "10.0.0.1", Port: 27014 + i, RconPassword: "pw", Enabled: true,
		}))
	}
}

func (e *env) seedTournament(t *testing.T, typ, format string, teamIDs ...string) {
	t.Helper()
	require.NoError(t, store.UpsertTournament(e.app, &store.Tournament{
		Name:    "Integration Cup",
		Type:    typ,
		Format:  format,
		MapPool: []string{"de_mirage", "de_inferno", "de_ancient", "de_nuke", "de_anubis"},
		TeamIDs: teamIDs,
	}))
}

// deliver appends the payloads to the event log and runs them through a
// fresh interpreter, returning once everything is applied. Matches the
// webhook path: append first, interpret after.
func (e *env) deliver(t *testing.T, payloads ...map[string]any) {
	t.Helper()
	interp := ingest.New(e.app, e.tracker, e.hub, e.sched.Wake, e.logger)
	for _, payload := range payloads {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		ev := &store.MatchEvent{
			MatchSlug: payload["matchid"].(string),
			Kind:      payload["event"].(string),
			Payload:   raw,
		}
		require.NoError(t, store.AppendEvent(e.app, ev))
		interp.Schedule(ev)
	}
	interp.Close()
}

// playSeries sends the series of webhook events a clean bo1 produces.
func (e *env) playSeries(t *testing.T, slug, mapName, winner string) {
	t.Helper()
	e.deliver(t,
		map[string]any{"matchid": slug, "event": "series_start", "num_maps": 1},
		map[string]any{"matchid": slug, "event": "going_live", "map_number": 1, "map_name": mapName},
		map[string]any{"matchid": slug, "event": "round_end", "round_number": 8, "team1_score": 5, "team2_score": 3},
		map[string]any{"matchid": slug, "event": "map_result", "map_number": 1, "map_name": mapName,
			"team1_score": 13, "team2_score": 7},
		map[string]any{"matchid": slug, "event": "series_end", "winner": winner,
			"team1_series_score": 1, "team2_series_score": 0},
	)
}

func (e *env) mustMatch(t *testing.T, slug string) *store.Match {
	t.Helper()
	m, err := store.FindMatch(e.app, slug)
	require.NoError(t, err)
	return m
}

func (e *env) matchByTag(t *testing.T, tag string) *store.Match {
	t.Helper()
	matches, err := store.ListMatches(e.app)
	require.NoError(t, err)
	for _, m := range matches {
		if m.BracketTag == tag {
			return m
		}
	}
	t.Fatalf("no match tagged %q", tag)
	return nil
}

func (e *env) tournamentStatus(t *testing.T) string {
	t.Helper()
	tour, err := store.GetTournament(e.app)
	require.NoError(t, err)
	return tour.Status
}

func TestSingleElimBo1RunsEndToEnd(t *testing.T) {
	e := newEnv(t)
	e.seedTeams(t, "alpha", "bravo")
	e.seedServers(t, 1)
	e.seedTournament(t, store.TypeSingleElim, store.FormatBo1, "alpha", "bravo")

	allocated, err := e.sched.StartTournament("")
	require.NoError(t, err)
	assert.Equal(t, 1, allocated)

	m := e.mustMatch(t, "alpha_vs_bravo")
	assert.Equal(t, store.MatchLoaded, m.Status)
	assert.Equal(t, "s1", m.Server)
	assert.True(t, m.VetoCompleted)
	require.Len(t, m.Config.Maplist, 1)

	e.playSeries(t, m.Slug, m.Config.Maplist[0], "team1")

	m = e.mustMatch(t, m.Slug)
	assert.Equal(t, store.MatchCompleted, m.Status)
	assert.Equal(t, "alpha", m.Winner)
	require.Len(t, m.MapResults, 1)
	assert.Equal(t, 13, m.MapResults[0].Team1Score)
	assert.Equal(t, 1, m.Team1SeriesScore)

	e.sched.RunCycle()
	assert.Equal(t, store.TournamentCompleted, e.tournamentStatus(t))
}

func TestBracketAdvancesToFinal(t *testing.T) {
	e := newEnv(t)
	e.seedTeams(t, "alpha", "bravo", "charlie", "delta")
	e.seedServers(t, 2)
	e.seedTournament(t, store.TypeSingleElim, store.FormatBo1, "alpha", "bravo", "charlie", "delta")

	allocated, err := e.sched.StartTournament("")
	require.NoError(t, err)
	assert.Equal(t, 2, allocated)

	matches, err := store.ListMatchesByStatus(e.app, store.MatchLoaded)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	for _, m := range matches {
		e.playSeries(t, m.Slug, m.Config.Maplist[0], "team1")
	}

	// One cycle propagates the winners, runs the final's veto and reuses
	// the freed servers.
	e.sched.RunCycle()

	final := e.matchByTag(t, "final")
	assert.Equal(t, store.MatchLoaded, final.Status)
	assert.True(t, final.HasBothTeams())
	winners := map[string]bool{matches[0].Team1: true, matches[1].Team1: true}
	assert.True(t, winners[final.Team1])
	assert.True(t, winners[final.Team2])

	e.playSeries(t, final.Slug, final.Config.Maplist[0], "team2")
	e.sched.RunCycle()

	final = e.mustMatch(t, final.Slug)
	assert.Equal(t, final.Team2, final.Winner)
	assert.Equal(t, store.TournamentCompleted, e.tournamentStatus(t))
}

func TestWalkoverFeedsFinal(t *testing.T) {
	e := newEnv(t)
	e.seedTeams(t, "alpha", "bravo", "charlie")
	e.seedServers(t, 1)
	e.seedTournament(t, store.TypeSingleElim, store.FormatBo1, "alpha", "bravo", "charlie")

	_, err := e.sched.StartTournament("")
	require.NoError(t, err)

	matches, err := store.ListMatches(e.app)
	require.NoError(t, err)

	var bye, real *store.Match
	for _, m := range matches {
		if m.Round != 1 {
			continue
		}
		if m.Walkover {
			bye = m
		} else {
			real = m
		}
	}
	require.NotNil(t, bye)
	require.NotNil(t, real)

	assert.Equal(t, store.MatchCompleted, bye.Status)
	assert.Equal(t, bye.Team1, bye.Winner)
	assert.Equal(t, store.MatchLoaded, real.Status)

	e.playSeries(t, real.Slug, real.Config.Maplist[0], "team1")
	e.sched.RunCycle()

	final := e.matchByTag(t, "final")
	assert.True(t, final.HasBothTeams())
	assert.Equal(t, store.MatchLoaded, final.Status)

	e.playSeries(t, final.Slug, final.Config.Maplist[0], "team1")
	e.sched.RunCycle()
	assert.Equal(t, store.TournamentCompleted, e.tournamentStatus(t))
}

func TestUnknownMatchEventStaysOrphan(t *testing.T) {
	e := newEnv(t)
	e.seedTeams(t, "alpha", "bravo")
	e.seedServers(t, 1)
	e.seedTournament(t, store.TypeSingleElim, store.FormatBo1, "alpha", "bravo")

	_, err := e.sched.StartTournament("")
	require.NoError(t, err)

	e.deliver(t, map[string]any{
		"matchid": "ghost", "event": "series_end", "winner": "team1",
	})

	orphans, err := store.ListOrphanEvents(e.app, 0)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "ghost", orphans[0].MatchSlug)

	// The real match saw nothing.
	m := e.mustMatch(t, "alpha_vs_bravo")
	assert.Equal(t, store.MatchLoaded, m.Status)
	assert.Empty(t, m.Winner)
	assert.Equal(t, store.TournamentInProgress, e.tournamentStatus(t))
}

func TestServerFailureDuringLoadRecovers(t *testing.T) {
	e := newEnv(t)
	e.seedTeams(t, "alpha", "bravo")
	e.seedServers(t, 1)
	e.seedTournament(t, store.TypeSingleElim, store.FormatBo1, "alpha", "bravo")

	e.commander.setFail(true)
	allocated, err := e.sched.StartTournament("")
	require.NoError(t, err)
	assert.Equal(t, 0, allocated)

	m := e.mustMatch(t, "alpha_vs_bravo")
	assert.Equal(t, store.MatchReady, m.Status)
	assert.Empty(t, m.Server)

	warnings, err := store.ListEvents(e.app, m.Slug, store.EventFilter{Kind: "scheduler_warning"})
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)

	// Server comes back; the next cycle picks the match up again.
	e.commander.setFail(false)
	e.sched.RunCycle()

	m = e.mustMatch(t, m.Slug)
	assert.Equal(t, store.MatchLoaded, m.Status)
	assert.Equal(t, "s1", m.Server)

	e.playSeries(t, m.Slug, m.Config.Maplist[0], "team1")
	e.sched.RunCycle()
	assert.Equal(t, store.TournamentCompleted, e.tournamentStatus(t))
}
