package demos

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
	_ "github.com/sivert-io/matchzy-auto-tournament/migrations"
)

func TestParseName(t *testing.T) {
	cases := []struct {
		in        string
		slug      string
		mapNumber int
		ok        bool
	}{
		{"a_vs_b.dem", "a_vs_b", 0, true},
		{"a_vs_b_map2.dem", "a_vs_b", 2, true},
		{"/demos/grand-finals_map1.dem", "grand-finals", 1, true},
		{"wb-r2-m1.dem", "wb-r2-m1", 0, true},
		{"notes.txt", "", 0, false},
		{".dem", "", 0, false},
	}
	for _, tc := range cases {
		slug, n, ok := ParseName(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if ok {
			assert.Equal(t, tc.slug, slug, tc.in)
			assert.Equal(t, tc.mapNumber, n, tc.in)
		}
	}
}

func newApp(t *testing.T) *tests.TestApp {
	t.Helper()
	app, err := tests.NewTestApp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)
	return app
}

func seedMatch(t *testing.T, app *tests.TestApp) {
	t.Helper()
	require.NoError(t, store.CreateMatches(app, []*store.Match{{
		Slug:   "a_vs_b",
		Round:  1,
		Team1:  "a",
		Team2:  "b",
		Status: store.MatchCompleted,
		MapResults: []store.MapResult{
			{MapNumber: 0, MapName: "de_ancient", Team1Score: 13, Team2Score: 7},
		},
	}}))
}

func TestWatcherAttachesExistingDemo(t *testing.T) {
	app := newApp(t)
	seedMatch(t, app)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_vs_b.dem"), []byte("demo"), 0o644))

	w, err := NewWatcher(app, dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	m, err := store.FindMatch(app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_vs_b.dem"}, m.DemoFilePaths)
	assert.Equal(t, "a_vs_b.dem", m.MapResults[0].DemoFilePath)
}

func TestWatcherPicksUpNewDemo(t *testing.T) {
	app := newApp(t)
	seedMatch(t, app)

	dir := t.TempDir()
	w, err := NewWatcher(app, dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_vs_b_map0.dem"), []byte("demo"), 0o644))

	require.Eventually(t, func() bool {
		m, err := store.FindMatch(app, "a_vs_b")
		return err == nil && len(m.DemoFilePaths) == 1
	}, 2*time.Second, 20*time.Millisecond)

	m, err := store.FindMatch(app, "a_vs_b")
	require.NoError(t, err)
	assert.Equal(t, "a_vs_b_map0.dem", m.MapResults[0].DemoFilePath)
}

func TestAttachIsIdempotent(t *testing.T) {
	app := newApp(t)
	seedMatch(t, app)

	dir := t.TempDir()
	path := filepath.Join(dir, "a_vs_b.dem")
	require.NoError(t, os.WriteFile(path, []byte("demo"), 0o644))

	w, err := NewWatcher(app, dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	w.attach(path)
	w.attach(path)

	m, err := store.FindMatch(app, "a_vs_b")
	require.NoError(t, err)
	assert.Len(t, m.DemoFilePaths, 1)
}

func TestResolve(t *testing.T) {
	app := newApp(t)
	seedMatch(t, app)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_vs_b.dem"), []byte("demo"), 0o644))

	w, err := NewWatcher(app, dir, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	w.attach(filepath.Join(dir, "a_vs_b.dem"))

	path, err := Resolve(app, dir, "a_vs_b", -1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a_vs_b.dem"), path)

	path, err = Resolve(app, dir, "a_vs_b", 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a_vs_b.dem"), path)

	_, err = Resolve(app, dir, "a_vs_b", 3)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = Resolve(app, dir, "ghost", -1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
