package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

func matchFromRecord(r *core.Record) (*Match, error) {
	m := &Match{
		Slug:        r.GetString("slug"),
		Round:       r.GetInt("round"),
		MatchNumber: r.GetInt("match_number"),
		BracketTag:  r.GetString("bracket_tag"),

		Team1:  r.GetString("team1"),
		Team2:  r.GetString("team2"),
		Winner: r.GetString("winner"),
		Server: r.GetString("server"),

		Status:     r.GetString("status"),
		MatchPhase: r.GetString("match_phase"),

		Walkover:      r.GetBool("walkover"),
		VetoCompleted: r.GetBool("veto_completed"),

		Team1Score:       r.GetInt("team1_score"),
		Team2Score:       r.GetInt("team2_score"),
		Team1SeriesScore: r.GetInt("team1_series_score"),
		Team2SeriesScore: r.GetInt("team2_series_score"),

		WinnerTo:   r.GetString("winner_to"),
		WinnerSlot: r.GetInt("winner_slot"),
		LoserTo:    r.GetString("loser_to"),
		LoserSlot:  r.GetInt("loser_slot"),

		Version: r.GetInt("version"),
	}

	if err := r.UnmarshalJSONField("config", &m.Config); err != nil {
		return nil, fmt.Errorf("decode config for match %s: %w", m.Slug, err)
	}
	if err := r.UnmarshalJSONField("map_results", &m.MapResults); err != nil {
		return nil, fmt.Errorf("decode map results for match %s: %w", m.Slug, err)
	}
	if err := r.UnmarshalJSONField("demo_file_paths", &m.DemoFilePaths); err != nil {
		return nil, fmt.Errorf("decode demo paths for match %s: %w", m.Slug, err)
	}

	m.CreatedAt = r.GetDateTime("created").Time()
	m.ReadyAt = r.GetDateTime("ready_at").Time()
	m.LoadedAt = r.GetDateTime("loaded_at").Time()
	m.CompletedAt = r.GetDateTime("completed_at").Time()

	return m, nil
}

func matchToRecord(m *Match, r *core.Record) {
	r.Set("slug", m.Slug)
	r.Set("round", m.Round)
	r.Set("match_number", m.MatchNumber)
	r.Set("bracket_tag", m.BracketTag)
	r.Set("team1", m.Team1)
	r.Set("team2", m.Team2)
	r.Set("winner", m.Winner)
	r.Set("server", m.Server)
	r.Set("status", m.Status)
	r.Set("match_phase", m.MatchPhase)
	r.Set("walkover", m.Walkover)
	r.Set("veto_completed", m.VetoCompleted)
	r.Set("config", m.Config)
	r.Set("map_results", m.MapResults)
	r.Set("team1_score", m.Team1Score)
	r.Set("team2_score", m.Team2Score)
	r.Set("team1_series_score", m.Team1SeriesScore)
	r.Set("team2_series_score", m.Team2SeriesScore)
	r.Set("demo_file_paths", m.DemoFilePaths)
	r.Set("winner_to", m.WinnerTo)
	r.Set("winner_slot", m.WinnerSlot)
	r.Set("loser_to", m.LoserTo)
	r.Set("loser_slot", m.LoserSlot)
	r.Set("version", m.Version)

	setDate := func(field string, t time.Time) {
		if t.IsZero() {
			r.Set(field, "")
		} else {
			r.Set(field, t)
		}
	}
	setDate("ready_at", m.ReadyAt)
	setDate("loaded_at", m.LoadedAt)
	setDate("completed_at", m.CompletedAt)
}

// FindMatch returns a match by slug.
func FindMatch(app core.App, slug string) (*Match, error) {
	r, err := app.FindFirstRecordByFilter("matches", "slug = {:slug}", dbx.Params{"slug": slug})
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", slug, ErrNotFound)
	}
	return matchFromRecord(r)
}

// ListMatches returns all matches ordered by (round, match number, created).
func ListMatches(app core.App) ([]*Match, error) {
	records, err := app.FindRecordsByFilter("matches", "", "round,match_number,created", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", ErrUnavailable)
	}
	matches := make([]*Match, 0, len(records))
	for _, r := range records {
		m, err := matchFromRecord(r)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// ListMatchesByStatus returns matches with the given status, allocation order.
func ListMatchesByStatus(app core.App, status string) ([]*Match, error) {
	records, err := app.FindRecordsByFilter(
		"matches",
		"status = {:status}",
		"round,match_number,created", 0, 0,
		dbx.Params{"status": status},
	)
	if err != nil {
		return nil, fmt.Errorf("list %s matches: %w", status, ErrUnavailable)
	}
	matches := make([]*Match, 0, len(records))
	for _, r := range records {
		m, err := matchFromRecord(r)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// FindMatchesForTeam returns every match a team appears in, newest round last.
func FindMatchesForTeam(app core.App, teamID string) ([]*Match, error) {
	records, err := app.FindRecordsByFilter(
		"matches",
		"team1 = {:team} || team2 = {:team}",
		"round,match_number", 0, 0,
		dbx.Params{"team": teamID},
	)
	if err != nil {
		return nil, fmt.Errorf("matches for team %s: %w", teamID, ErrUnavailable)
	}
	matches := make([]*Match, 0, len(records))
	for _, r := range records {
		m, err := matchFromRecord(r)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// CreateMatches inserts a batch of matches atomically. Slugs must be unique;
// any failure rolls back the whole batch.
func CreateMatches(app core.App, matches []*Match) error {
	return app.RunInTransaction(func(tx core.App) error {
		collection, err := tx.FindCollectionByNameOrId("matches")
		if err != nil {
			return fmt.Errorf("matches collection: %w", ErrUnavailable)
		}
		for _, m := range matches {
			if m.Slug == "" {
				return fmt.Errorf("%w: match without slug", ErrValidation)
			}
			if m.Status == "" {
				m.Status = MatchPending
			}
			if m.MatchPhase == "" {
				m.MatchPhase = PhaseNone
			}
			m.Version = 1

			r := core.NewRecord(collection)
			matchToRecord(m, r)
			if err := tx.Save(r); err != nil {
				return fmt.Errorf("create match %s: %w", m.Slug, err)
			}
		}
		return nil
	})
}

// SaveMatch persists m under the optimistic lock: the stored version must
// still equal m.Version or ErrStale is returned. On success the version is
// bumped, both in the store and on m.
func SaveMatch(app core.App, m *Match) error {
	return app.RunInTransaction(func(tx core.App) error {
		r, err := tx.FindFirstRecordByFilter("matches", "slug = {:slug}", dbx.Params{"slug": m.Slug})
		if err != nil {
			return fmt.Errorf("match %s: %w", m.Slug, ErrNotFound)
		}
		if r.GetInt("version") != m.Version {
			return fmt.Errorf("match %s version %d: %w", m.Slug, m.Version, ErrStale)
		}

		// A server may host one loaded or live match at a time. The check
		// lives inside the write transaction because the allocator and the
		// manual load route race against each other; the version column
		// cannot catch a double bind across two match rows.
		if m.Server != "" && (m.Status == MatchLoaded || m.Status == MatchLive) {
			bound, err := tx.FindRecordsByFilter(
				"matches",
				"server = {:server} && slug != {:slug} && (status = {:loaded} || status = {:live})",
				"", 1, 0,
				dbx.Params{"server": m.Server, "slug": m.Slug, "loaded": MatchLoaded, "live": MatchLive},
			)
			if err == nil && len(bound) > 0 {
				return fmt.Errorf("%w: server %s is already bound to match %s", ErrConflict, m.Server, bound[0].GetString("slug"))
			}
		}

		m.Version++
		matchToRecord(m, r)
		if err := tx.Save(r); err != nil {
			m.Version--
			return fmt.Errorf("save match %s: %w", m.Slug, err)
		}
		return nil
	})
}

// MutateMatch loads a match, applies fn and saves it, retrying up to three
// times on ErrStale. fn runs on a fresh copy each attempt and may return
// ErrConflict (or anything else) to abort.
func MutateMatch(app core.App, slug string, fn func(*Match) error) (*Match, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		m, err := FindMatch(app, slug)
		if err != nil {
			return nil, err
		}
		if err := fn(m); err != nil {
			return nil, err
		}
		if err := SaveMatch(app, m); err != nil {
			if isStale(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return m, nil
	}
	return nil, lastErr
}

func isStale(err error) bool {
	return errors.Is(err, ErrStale)
}
