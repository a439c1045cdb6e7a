package ingest

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/pocketbase/pocketbase/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
	_ "github.com/sivert-io/matchzy-auto-tournament/migrations"
)

type fixture struct {
	app     *tests.TestApp
	interp  *Interpreter
	tracker *match.Tracker
	woken   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	app, err := tests.NewTestApp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	f := &fixture{app: app, tracker: match.NewTracker()}
	logger := slog.New(slog.DiscardHandler)
	f.interp = New(app, f.tracker, hub.New(logger), func() { f.woken++ }, logger)
	return f
}

func (f *fixture) createMatch(t *testing.T, m *store.Match) {
	t.Helper()
	require.NoError(t, store.CreateMatches(f.app, []*store.Match{m}))
}

func (f *fixture) event(t *testing.T, payload map[string]any) *store.MatchEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &store.MatchEvent{
		MatchSlug: payload["matchid"].(string),
		Kind:      payload["event"].(string),
		Payload:   raw,
	}
}

func liveMatch() *store.Match {
	return &store.Match{
		Slug:          "a_vs_b",
		Round:         1,
		MatchNumber:   1,
		Team1:         "a",
		Team2:         "b",
		Status:        store.MatchLive,
		MatchPhase:    store.PhaseLive,
		Server:        "s1",
		VetoCompleted: true,
		Config:        store.MatchConfig{NumMaps: 1, ExpectedPlayersTotal: 10},
	}
}

func TestSeriesStartGoesLive(t *testing.T) {
	f := newFixture(t)
	m := liveMatch()
	m.Status = store.MatchLoaded
	m.MatchPhase = store.PhaseWarmup
	f.createMatch(t, m)

	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "series_start", "num_maps": 1,
	}))

	got, err := store.FindMatch(f.app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, store.MatchLive, got.Status)
	assert.Equal(t, store.PhaseLive, got.MatchPhase)

	stats, ok := f.tracker.Snapshot("a_vs_b")
	require.True(t, ok)
	assert.Equal(t, store.MatchLive, stats.Status)
	assert.Equal(t, 1, stats.TotalMaps)
}

func TestSeriesEndCompletesMatch(t *testing.T) {
	f := newFixture(t)
	f.createMatch(t, liveMatch())

	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "map_result",
		"map_number": 0, "map_name": "de_ancient",
		"team1_score": 13, "team2_score": 7,
	}))
	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "series_end",
		"team1_series_score": 1, "team2_series_score": 0,
		"winner": map[string]any{"team": "team1"},
	}))

	got, err := store.FindMatch(f.app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, store.MatchCompleted, got.Status)
	assert.Equal(t, "a", got.Winner)
	assert.Empty(t, got.Server, "server released")
	assert.Equal(t, 1, got.Team1SeriesScore)
	require.Len(t, got.MapResults, 1)
	assert.Equal(t, "de_ancient", got.MapResults[0].MapName)
	assert.Equal(t, 1, f.woken, "scheduler woken for advancement")
}

func TestSeriesEndTieDefersCompletion(t *testing.T) {
	f := newFixture(t)
	m := liveMatch()
	m.Config.NumMaps = 2
	f.createMatch(t, m)

	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "series_end",
		"team1_series_score": 1, "team2_series_score": 1,
	}))

	got, err := store.FindMatch(f.app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, store.MatchLive, got.Status, "tied even series stays live")
	assert.Empty(t, got.Winner)
	assert.Equal(t, 1, f.woken, "scheduler woken to arrange the tiebreak")
}

func TestSeriesEndDerivesWinnerFromScores(t *testing.T) {
	f := newFixture(t)
	m := liveMatch()
	m.Team1SeriesScore = 0
	m.Team2SeriesScore = 1
	f.createMatch(t, m)

	// No explicit winner field.
	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "series_end",
	}))

	got, err := store.FindMatch(f.app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Winner)
}

func TestEventForUnknownMatchIsIgnored(t *testing.T) {
	f := newFixture(t)

	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "ghost", "event": "series_start",
	}))

	assert.Zero(t, f.woken)
	assert.Zero(t, f.interp.Dropped())
}

func TestEventCannotRegressCompletedMatch(t *testing.T) {
	f := newFixture(t)
	m := liveMatch()
	m.Status = store.MatchCompleted
	m.Winner = "a"
	m.Server = ""
	f.createMatch(t, m)

	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "series_start",
	}))

	got, err := store.FindMatch(f.app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, store.MatchCompleted, got.Status)
	assert.Equal(t, "a", got.Winner)
}

func TestConnectDisconnectUpdatesTracker(t *testing.T) {
	f := newFixture(t)
	f.createMatch(t, liveMatch())

	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "player_connect",
		"player": map[string]any{"steamid": "111", "name": "alice", "team": "team1"},
	}))
	assert.Equal(t, 1, f.tracker.ConnectedCount("a_vs_b"))

	f.interp.interpret(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "player_disconnect",
		"player": map[string]any{"steamid": "111"},
	}))
	assert.Equal(t, 0, f.tracker.ConnectedCount("a_vs_b"))
}

func TestScheduleDrainsOnClose(t *testing.T) {
	f := newFixture(t)
	m := liveMatch()
	m.Status = store.MatchLoaded
	m.MatchPhase = store.PhaseWarmup
	f.createMatch(t, m)

	f.interp.Schedule(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "series_start",
	}))
	f.interp.Schedule(f.event(t, map[string]any{
		"matchid": "a_vs_b", "event": "series_end",
		"team1_series_score": 1, "team2_series_score": 0, "winner": "team1",
	}))
	f.interp.Close()

	got, err := store.FindMatch(f.app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, store.MatchCompleted, got.Status, "queued events applied in order before shutdown")
	assert.Equal(t, "a", got.Winner)
}

func TestScheduleAfterCloseIsNoop(t *testing.T) {
	f := newFixture(t)
	f.interp.Close()
	f.interp.Schedule(&store.MatchEvent{MatchSlug: "a_vs_b", Kind: "series_start", Payload: []byte(`{}`)})
}
