package store_test

import (
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
	_ "github.com/sivert-io/matchzy-auto-tournament/migrations"
)

func newApp(t *testing.T) *tests.TestApp {
	t.Helper()
	app, err := tests.NewTestApp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)
	return app
}

func TestUpsertTeamDerivesSlug(t *testing.T) {
	app := newApp(t)

	team := &store.Team{Name: "Natus Vincere"}
	require.NoError(t, store.UpsertTeam(app, team))
	assert.Equal(t, "natus_vincere", team.ID)

	got, err := store.FindTeam(app, "natus_vincere")
	require.NoError(t, err)
	assert.Equal(t, "Natus Vincere", got.Name)
}

func TestUpsertTeamValidation(t *testing.T) {
	app := newApp(t)

	err := store.UpsertTeam(app, &store.Team{})
	assert.ErrorIs(t, err, store.ErrValidation)

	err = store.UpsertTeam(app, &store.Team{Name: "X", Tag: "TOOLONG"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestUpsertTeamReplacesRoster(t *testing.T) {
	app := newApp(t)

	require.NoError(t, store.UpsertTeam(app, &store.Team{
		ID: "alpha", Name: "Alpha",
		Players: []store.Player{{SteamID: "76561197960287930", Name: "one"}},
	}))
	require.NoError(t, store.UpsertTeam(app, &store.Team{
		ID: "alpha", Name: "Alpha",
		Players: []store.Player{
			{SteamID: "76561197960287930", Name: "one"},
			{SteamID: "76561197960287931", Name: "two"},
		},
	}))

	got, err := store.FindTeam(app, "alpha")
	require.NoError(t, err)
	assert.Len(t, got.Players, 2)
}

func TestDeleteTeamGuardedByOpenMatch(t *testing.T) {
	app := newApp(t)
	require.NoError(t, store.UpsertTeam(app, &store.Team{ID: "alpha", Name: "Alpha"}))
	require.NoError(t, store.UpsertTeam(app, &store.Team{ID: "bravo", Name: "Bravo"}))
	require.NoError(t, store.CreateMatches(app, []*store.Match{{
		Slug: "alpha_vs_bravo", Round: 1, MatchNumber: 1,
		Team1: "alpha", Team2: "bravo", Status: store.MatchReady,
	}}))

	err := store.DeleteTeam(app, "alpha")
	assert.ErrorIs(t, err, store.ErrConflict)

	// Completed matches no longer block deletion.
	_, err = store.MutateMatch(app, "alpha_vs_bravo", func(m *store.Match) error {
		m.Status = store.MatchCompleted
		m.Winner = "alpha"
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, store.DeleteTeam(app, "alpha"))
}

func TestUpsertServerAddressUniqueness(t *testing.T) {
	app := newApp(t)

	require.NoError(t, store.UpsertServer(app, &store.Server{
		ID: "s1", Name: "s1", Host: "10.0.0.1", Port: 27015, RconPassword: "pw", Enabled: true,
	}))

	err := store.UpsertServer(app, &store.Server{
		ID: "s2", Name: "s2", Host: "10.0.0.1", Port: 27015, RconPassword: "pw", Enabled: true,
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	// A disabled server may share the address.
	assert.NoError(t, store.UpsertServer(app, &store.Server{
		ID: "s3", Name: "s3", Host: "10.0.0.1", Port: 27015, RconPassword: "pw", Enabled: false,
	}))
}

func TestUpsertServerValidation(t *testing.T) {
	app := newApp(t)

	err := store.UpsertServer(app, &store.Server{Name: "bad", Host: "10.0.0.1", Port: 0})
	assert.ErrorIs(t, err, store.ErrValidation)

	err = store.UpsertServer(app, &store.Server{Name: "bad", Host: "", Port: 27015})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestAvailableServersExcludesBoundAndDisabled(t *testing.T) {
	app := newApp(t)
	for _, s := range []*store.Server{
		{ID: "s1", Name: "s1", Host: "10.0.0.1", Port: 27015, RconPassword: "pw", Enabled: true},
		{ID: "s2", Name: "s2", Host: "10.0.0.1", Port: 27016, RconPassword: "pw", Enabled: true},
		{ID: "s3", Name: "s3", Host: "10.0.0.1", Port: 27017, RconPassword: "pw", Enabled: false},
	} {
		require.NoError(t, store.UpsertServer(app, s))
	}
	require.NoError(t, store.CreateMatches(app, []*store.Match{{
		Slug: "a_vs_b", Round: 1, MatchNumber: 1,
		Team1: "a", Team2: "b",
		Status: store.MatchLoaded, Server: "s1", VetoCompleted: true,
	}}))

	available, err := store.AvailableServers(app)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "s2", available[0].ID)
}

func TestTournamentValidation(t *testing.T) {
	app := newApp(t)

	base := store.Tournament{
		Name:    "Cup",
		Format:  store.FormatBo3,
		MapPool: []string{"de_mirage", "de_inferno", "de_ancient"},
		TeamIDs: []string{"a", "b", "c"},
	}

	bad := base
	bad.Type = "ladder"
	assert.ErrorIs(t, store.UpsertTournament(app, &bad), store.ErrValidation)

	bad = base
	bad.Type = store.TypeDoubleElim
	assert.ErrorIs(t, store.UpsertTournament(app, &bad), store.ErrValidation)

	bad = base
	bad.Type = store.TypeSingleElim
	bad.MapPool = []string{"de_mirage"}
	assert.ErrorIs(t, store.UpsertTournament(app, &bad), store.ErrValidation)

	bad = base
	bad.Type = store.TypeSingleElim
	bad.TeamIDs = []string{"a", "a", "b"}
	assert.ErrorIs(t, store.UpsertTournament(app, &bad), store.ErrValidation)

	good := base
	good.Type = store.TypeSingleElim
	require.NoError(t, store.UpsertTournament(app, &good))
	assert.Equal(t, store.TournamentSetup, good.Status)
}

func TestUpsertTournamentRejectsStructuralChangeWhileRunning(t *testing.T) {
	app := newApp(t)

	tour := &store.Tournament{
		Name: "Cup", Type: store.TypeSingleElim, Format: store.FormatBo1,
		MapPool: []string{"de_mirage"}, TeamIDs: []string{"a", "b"},
	}
	require.NoError(t, store.UpsertTournament(app, tour))
	require.NoError(t, store.SetTournamentStatus(app, store.TournamentInProgress))

	tour.Status = store.TournamentSetup
	assert.ErrorIs(t, store.UpsertTournament(app, tour), store.ErrConflict)
}

func TestCreateMatchesIsAtomic(t *testing.T) {
	app := newApp(t)

	err := store.CreateMatches(app, []*store.Match{
		{Slug: "a_vs_b", Round: 1, MatchNumber: 1},
		{Slug: ""}, // invalid, must roll back the first insert too
	})
	require.Error(t, err)

	_, err = store.FindMatch(app, "a_vs_b")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveMatchOptimisticLock(t *testing.T) {
	app := newApp(t)
	require.NoError(t, store.CreateMatches(app, []*store.Match{{
		Slug: "a_vs_b", Round: 1, MatchNumber: 1, Team1: "a", Team2: "b",
	}}))

	first, err := store.FindMatch(app, "a_vs_b")
	require.NoError(t, err)
	second, err := store.FindMatch(app, "a_vs_b")
	require.NoError(t, err)

	first.Team1Score = 5
	require.NoError(t, store.SaveMatch(app, first))

	second.Team1Score = 9
	assert.ErrorIs(t, store.SaveMatch(app, second), store.ErrStale)

	// The first writer's version token is still usable.
	first.Team1Score = 7
	require.NoError(t, store.SaveMatch(app, first))
}

func TestSaveMatchRejectsDoubleServerBind(t *testing.T) {
	app := newApp(t)
	require.NoError(t, store.CreateMatches(app, []*store.Match{
		{Slug: "a_vs_b", Round: 1, MatchNumber: 1, Team1: "a", Team2: "b", Status: store.MatchReady},
		{Slug: "c_vs_d", Round: 1, MatchNumber: 2, Team1: "c", Team2: "d", Status: store.MatchReady},
	}))

	bind := func(m *store.Match) error {
		m.Status = store.MatchLoaded
		m.Server = "s1"
		return nil
	}

	_, err := store.MutateMatch(app, "a_vs_b", bind)
	require.NoError(t, err)

	// Two allocations raced to the same server; the second write loses.
	_, err = store.MutateMatch(app, "c_vs_d", bind)
	assert.ErrorIs(t, err, store.ErrConflict)

	// The first match keeps saving fine, live included.
	_, err = store.MutateMatch(app, "a_vs_b", func(m *store.Match) error {
		m.Status = store.MatchLive
		return nil
	})
	require.NoError(t, err)

	// Once the server is released the other match may take it.
	_, err = store.MutateMatch(app, "a_vs_b", func(m *store.Match) error {
		m.Status = store.MatchCompleted
		m.Winner = "a"
		return nil
	})
	require.NoError(t, err)
	_, err = store.MutateMatch(app, "c_vs_d", bind)
	require.NoError(t, err)
}

func TestMutateMatchRetriesStaleWrites(t *testing.T) {
	app := newApp(t)
	require.NoError(t, store.CreateMatches(app, []*store.Match{{
		Slug: "a_vs_b", Round: 1, MatchNumber: 1, Team1: "a", Team2: "b",
	}}))

	interfered := false
	got, err := store.MutateMatch(app, "a_vs_b", func(m *store.Match) error {
		if !interfered {
			// A concurrent writer bumps the version mid-mutation.
			interfered = true
			other, err := store.FindMatch(app, "a_vs_b")
			if err != nil {
				return err
			}
			other.Team2Score = 3
			if err := store.SaveMatch(app, other); err != nil {
				return err
			}
		}
		m.Team1Score++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Team1Score)
	assert.Equal(t, 3, got.Team2Score)
}

func TestAppendEventAssignsMonotonicSeq(t *testing.T) {
	app := newApp(t)

	var last int64
	for i := 0; i < 5; i++ {
		ev := &store.MatchEvent{MatchSlug: "a_vs_b", Kind: "round_end", Payload: []byte(`{}`)}
		require.NoError(t, store.AppendEvent(app, ev))
		assert.Greater(t, ev.Seq, last)
		last = ev.Seq
	}
}

func TestListEventsFilters(t *testing.T) {
	app := newApp(t)
	for _, kind := range []string{"round_end", "player_death", "round_end"} {
		require.NoError(t, store.AppendEvent(app, &store.MatchEvent{
			MatchSlug: "a_vs_b", Kind: kind, Payload: []byte(`{}`),
		}))
	}
	require.NoError(t, store.AppendEvent(app, &store.MatchEvent{
		MatchSlug: "c_vs_d", Kind: "round_end", Payload: []byte(`{}`),
	}))

	events, err := store.ListEvents(app, "a_vs_b", store.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = store.ListEvents(app, "a_vs_b", store.EventFilter{Kind: "round_end"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = store.ListEvents(app, "a_vs_b", store.EventFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = store.ListEvents(app, "a_vs_b", store.EventFilter{AfterSeq: events[0].Seq})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestListOrphanEvents(t *testing.T) {
	app := newApp(t)
	require.NoError(t, store.CreateMatches(app, []*store.Match{{
		Slug: "a_vs_b", Round: 1, MatchNumber: 1,
	}}))
	require.NoError(t, store.AppendEvent(app, &store.MatchEvent{
		MatchSlug: "a_vs_b", Kind: "round_end", Payload: []byte(`{}`),
	}))
	require.NoError(t, store.AppendEvent(app, &store.MatchEvent{
		MatchSlug: "ghost", Kind: "round_end", Payload: []byte(`{}`),
	}))

	orphans, err := store.ListOrphanEvents(app, 0)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "ghost", orphans[0].MatchSlug)
}

func TestResetTournamentKeepsRosters(t *testing.T) {
	app := newApp(t)
	require.NoError(t, store.UpsertTeam(app, &store.Team{ID: "alpha", Name: "Alpha"}))
	require.NoError(t, store.UpsertServer(app, &store.Server{
		ID: "s1", Name: "s1", Host: "10.0.0.1", Port: 27015, RconPassword: "pw", Enabled: true,
	}))
	require.NoError(t, store.UpsertTournament(app, &store.Tournament{
		Name: "Cup", Type: store.TypeSingleElim, Format: store.FormatBo1,
		MapPool: []string{"de_mirage"}, TeamIDs: []string{"alpha", "bravo"},
	}))
	require.NoError(t, store.SetTournamentStatus(app, store.TournamentInProgress))
	require.NoError(t, store.CreateMatches(app, []*store.Match{{
		Slug: "a_vs_b", Round: 1, MatchNumber: 1,
	}}))
	require.NoError(t, store.AppendEvent(app, &store.MatchEvent{
		MatchSlug: "a_vs_b", Kind: "round_end", Payload: []byte(`{}`),
	}))
	require.NoError(t, store.SaveVetoState(app, &store.VetoState{
		MatchSlug: "a_vs_b", AvailableMaps: []string{"de_mirage"}, Deadline: time.Now(),
	}))

	require.NoError(t, store.ResetTournament(app))

	tour, err := store.GetTournament(app)
	require.NoError(t, err)
	assert.Equal(t, store.TournamentSetup, tour.Status)

	matches, err := store.ListMatches(app)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = store.FindVetoState(app, "a_vs_b")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = store.FindTeam(app, "alpha")
	assert.NoError(t, err)
	_, err = store.FindServer(app, "s1")
	assert.NoError(t, err)
}

func TestWipeTable(t *testing.T) {
	app := newApp(t)
	require.NoError(t, store.UpsertTeam(app, &store.Team{ID: "alpha", Name: "Alpha"}))

	assert.ErrorIs(t, store.WipeTable(app, "users"), store.ErrValidation)

	require.NoError(t, store.WipeTable(app, "teams"))
	_, err := store.FindTeam(app, "alpha")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVetoStateRoundTrip(t *testing.T) {
	app := newApp(t)

	deadline := time.Now().Add(2 * time.Minute).UTC()
	v := &store.VetoState{
		MatchSlug:     "a_vs_b",
		Steps:         []store.VetoStep{{Actor: "team1", Action: store.VetoBan, MapKey: "de_mirage", Auto: true}},
		CurrentStep:   1,
		AvailableMaps: []string{"de_inferno", "de_ancient"},
		PickedMaps:    []string{},
		Deadline:      deadline,
	}
	require.NoError(t, store.SaveVetoState(app, v))

	got, err := store.FindVetoState(app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
	require.Len(t, got.Steps, 1)
	assert.True(t, got.Steps[0].Auto)
	assert.WithinDuration(t, deadline, got.Deadline, time.Second)
	assert.False(t, got.VetoDeadlinePassed(time.Now()))
	assert.True(t, got.VetoDeadlinePassed(deadline.Add(time.Minute)))
}
