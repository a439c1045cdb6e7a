package store

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/sivert-io/matchzy-auto-tournament/internal/util"
)

// The store is a thin typed layer over PocketBase record collections.
// Every function takes a core.App so it composes with RunInTransaction:
// pass the transactional app inside a transaction, the outer app otherwise.

// --- teams ---

func teamFromRecord(r *core.Record) (*Team, error) {
	t := &Team{
		ID:            r.GetString("slug"),
		Name:          r.GetString("name"),
		Tag:           r.GetString("tag"),
		DiscordRoleID: r.GetString("discord_role_id"),
	}
	if err := r.UnmarshalJSONField("players", &t.Players); err != nil {
		return nil, fmt.Errorf("decode players for team %s: %w", t.ID, err)
	}
	return t, nil
}

func teamToRecord(t *Team, r *core.Record) {
	r.Set("slug", t.ID)
	r.Set("name", t.Name)
	r.Set("tag", t.Tag)
	r.Set("discord_role_id", t.DiscordRoleID)
	r.Set("players", t.Players)
}

// FindTeam returns a team by slug.
func FindTeam(app core.App, slug string) (*Team, error) {
	r, err := app.FindFirstRecordByFilter("teams", "slug = {:slug}", dbx.Params{"slug": slug})
	if err != nil {
		return nil, fmt.Errorf("team %s: %w", slug, ErrNotFound)
	}
	return teamFromRecord(r)
}

// ListTeams returns all teams ordered by slug.
func ListTeams(app core.App) ([]*Team, error) {
	records, err := app.FindRecordsByFilter("teams", "", "slug", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", ErrUnavailable)
	}
	teams := make([]*Team, 0, len(records))
	for _, r := range records {
		t, err := teamFromRecord(r)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, nil
}

// UpsertTeam creates or updates a team. An empty ID is derived from the name.
func UpsertTeam(app core.App, t *Team) error {
	if t.Name == "" {
		return fmt.Errorf("%w: team name is required", ErrValidation)
	}
	if t.ID == "" {
		t.ID = util.Slugify(t.Name)
	}
	if len(t.Tag) > 4 {
		return fmt.Errorf("%w: team tag %q exceeds 4 characters", ErrValidation, t.Tag)
	}

	r, err := app.FindFirstRecordByFilter("teams", "slug = {:slug}", dbx.Params{"slug": t.ID})
	if err != nil {
		collection, err := app.FindCollectionByNameOrId("teams")
		if err != nil {
			return fmt.Errorf("teams collection: %w", ErrUnavailable)
		}
		r = core.NewRecord(collection)
	}

	teamToRecord(t, r)
	if err := app.Save(r); err != nil {
		return fmt.Errorf("save team %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTeam removes a team unless a non-completed match still references it.
func DeleteTeam(app core.App, slug string) error {
	return app.RunInTransaction(func(tx core.App) error {
		r, err := tx.FindFirstRecordByFilter("teams", "slug = {:slug}", dbx.Params{"slug": slug})
		if err != nil {
			return fmt.Errorf("team %s: %w", slug, ErrNotFound)
		}

		open, err := tx.FindRecordsByFilter(
			"matches",
			"(team1 = {:slug} || team2 = {:slug}) && status != {:completed}",
			"", 1, 0,
			dbx.Params{"slug": slug, "completed": MatchCompleted},
		)
		if err == nil && len(open) > 0 {
			return fmt.Errorf("%w: team %s is referenced by match %s", ErrConflict, slug, open[0].GetString("slug"))
		}

		return tx.Delete(r)
	})
}

// --- servers ---

func serverFromRecord(r *core.Record) *Server {
	return &Server{
		ID:           r.GetString("slug"),
		Name:         r.GetString("name"),
		Host:         r.GetString("host"),
		Port:         r.GetInt("port"),
		RconPassword: r.GetString("rcon_password"),
		Enabled:      r.GetBool("enabled"),
	}
}

// FindServer returns a server by id.
func FindServer(app core.App, id string) (*Server, error) {
	r, err := app.FindFirstRecordByFilter("servers", "slug = {:slug}", dbx.Params{"slug": id})
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return serverFromRecord(r), nil
}

// ListServers returns all servers ordered by id.
func ListServers(app core.App) ([]*Server, error) {
	records, err := app.FindRecordsByFilter("servers", "", "slug", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", ErrUnavailable)
	}
	servers := make([]*Server, 0, len(records))
	for _, r := range records {
		servers = append(servers, serverFromRecord(r))
	}
	return servers, nil
}

// UpsertServer creates or updates a server. (host, port) must be unique
// among enabled servers.
func UpsertServer(app core.App, s *Server) error {
	if s.Name == "" {
		return fmt.Errorf("%w: server name is required", ErrValidation)
	}
	if s.Host == "" || s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("%w: server %q has invalid address %s:%d", ErrValidation, s.Name, s.Host, s.Port)
	}
	if s.ID == "" {
		s.ID = util.Slugify(s.Name)
	}

	return app.RunInTransaction(func(tx core.App) error {
		if s.Enabled {
			dup, err := tx.FindRecordsByFilter(
				"servers",
				"host = {:host} && port = {:port} && enabled = true && slug != {:slug}",
				"", 1, 0,
				dbx.Params{"host": s.Host, "port": s.Port, "slug": s.ID},
			)
			if err == nil && len(dup) > 0 {
				return fmt.Errorf("%w: %s is already used by enabled server %s", ErrConflict, s.Addr(), dup[0].GetString("slug"))
			}
		}

		r, err := tx.FindFirstRecordByFilter("servers", "slug = {:slug}", dbx.Params{"slug": s.ID})
		if err != nil {
			collection, err := tx.FindCollectionByNameOrId("servers")
			if err != nil {
				return fmt.Errorf("servers collection: %w", ErrUnavailable)
			}
			r = core.NewRecord(collection)
		}

		r.Set("slug", s.ID)
		r.Set("name", s.Name)
		r.Set("host", s.Host)
		r.Set("port", s.Port)
		r.Set("rcon_password", s.RconPassword)
		r.Set("enabled", s.Enabled)

		if err := tx.Save(r); err != nil {
			return fmt.Errorf("save server %s: %w", s.ID, err)
		}
		return nil
	})
}

// DeleteServer removes a server unless a non-completed match is bound to it.
func DeleteServer(app core.App, id string) error {
	return app.RunInTransaction(func(tx core.App) error {
		r, err := tx.FindFirstRecordByFilter("servers", "slug = {:slug}", dbx.Params{"slug": id})
		if err != nil {
			return fmt.Errorf("server %s: %w", id, ErrNotFound)
		}

		open, err := tx.FindRecordsByFilter(
			"matches",
			"server = {:slug} && status != {:completed}",
			"", 1, 0,
			dbx.Params{"slug": id, "completed": MatchCompleted},
		)
		if err == nil && len(open) > 0 {
			return fmt.Errorf("%w: server %s is bound to match %s", ErrConflict, id, open[0].GetString("slug"))
		}

		return tx.Delete(r)
	})
}

// AvailableServers returns enabled servers not bound to a loaded or live
// match, ordered stably by id.
func AvailableServers(app core.App) ([]*Server, error) {
	servers, err := ListServers(app)
	if err != nil {
		return nil, err
	}

	bound := map[string]bool{}
	records, err := app.FindRecordsByFilter(
		"matches",
		"server != '' && (status = {:loaded} || status = {:live})",
		"", 0, 0,
		dbx.Params{"loaded": MatchLoaded, "live": MatchLive},
	)
	if err == nil {
		for _, r := range records {
			bound[r.GetString("server")] = true
		}
	}

	available := make([]*Server, 0, len(servers))
	for _, s := range servers {
		if s.Enabled && !bound[s.ID] {
			available = append(available, s)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })
	return available, nil
}

// --- tournament ---

func tournamentFromRecord(r *core.Record) (*Tournament, error) {
	t := &Tournament{
		Name:   r.GetString("name"),
		Type:   r.GetString("type"),
		Format: r.GetString("format"),
		Status: r.GetString("status"),
	}
	if err := r.UnmarshalJSONField("map_pool", &t.MapPool); err != nil {
		return nil, fmt.Errorf("decode map pool: %w", err)
	}
	if err := r.UnmarshalJSONField("team_ids", &t.TeamIDs); err != nil {
		return nil, fmt.Errorf("decode team ids: %w", err)
	}
	return t, nil
}

// GetTournament returns the singleton tournament.
func GetTournament(app core.App) (*Tournament, error) {
	records, err := app.FindRecordsByFilter("tournament", "", "", 1, 0)
	if err != nil || len(records) == 0 {
		return nil, fmt.Errorf("tournament: %w", ErrNotFound)
	}
	return tournamentFromRecord(records[0])
}

// UpsertTournament creates or replaces the singleton tournament.
// Structural fields may only change while the tournament is in setup.
func UpsertTournament(app core.App, t *Tournament) error {
	if err := validateTournament(t); err != nil {
		return err
	}

	return app.RunInTransaction(func(tx core.App) error {
		records, err := tx.FindRecordsByFilter("tournament", "", "", 1, 0)

		var r *core.Record
		if err == nil && len(records) > 0 {
			r = records[0]
			if r.GetString("status") != TournamentSetup && t.Status == TournamentSetup {
				return fmt.Errorf("%w: tournament is %s, reset it first", ErrConflict, r.GetString("status"))
			}
		} else {
			collection, err := tx.FindCollectionByNameOrId("tournament")
			if err != nil {
				return fmt.Errorf("tournament collection: %w", ErrUnavailable)
			}
			r = core.NewRecord(collection)
		}

		if t.Status == "" {
			t.Status = TournamentSetup
		}

		r.Set("name", t.Name)
		r.Set("type", t.Type)
		r.Set("format", t.Format)
		r.Set("map_pool", t.MapPool)
		r.Set("team_ids", t.TeamIDs)
		r.Set("status", t.Status)

		if err := tx.Save(r); err != nil {
			return fmt.Errorf("save tournament: %w", err)
		}
		return nil
	})
}

// SetTournamentStatus updates only the status field.
func SetTournamentStatus(app core.App, status string) error {
	records, err := app.FindRecordsByFilter("tournament", "", "", 1, 0)
	if err != nil || len(records) == 0 {
		return fmt.Errorf("tournament: %w", ErrNotFound)
	}
	records[0].Set("status", status)
	if err := app.Save(records[0]); err != nil {
		return fmt.Errorf("save tournament status: %w", err)
	}
	return nil
}

func validateTournament(t *Tournament) error {
	switch t.Type {
	case TypeSingleElim, TypeDoubleElim, TypeRoundRobin, TypeSwiss:
	default:
		return fmt.Errorf("%w: unknown tournament type %q", ErrValidation, t.Type)
	}

	numMaps, err := NumMapsForFormat(t.Format)
	if err != nil {
		return err
	}
	if len(t.MapPool) < numMaps {
		return fmt.Errorf("%w: map pool has %d maps, %s needs at least %d", ErrValidation, len(t.MapPool), t.Format, numMaps)
	}

	if len(t.TeamIDs) < 2 {
		return fmt.Errorf("%w: tournament needs at least 2 teams", ErrValidation)
	}
	if t.Type == TypeDoubleElim && !util.IsPowerOfTwo(len(t.TeamIDs)) {
		return fmt.Errorf("%w: double elimination requires a power-of-two team count, got %d", ErrValidation, len(t.TeamIDs))
	}

	seen := map[string]bool{}
	for _, id := range t.TeamIDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate team id %q", ErrValidation, id)
		}
		seen[id] = true
	}
	return nil
}

// ResetTournament deletes all matches, events and veto states and returns
// the tournament to setup. Teams and servers survive.
func ResetTournament(app core.App) error {
	return app.RunInTransaction(func(tx core.App) error {
		for _, collection := range []string{"matches", "match_events", "veto_states"} {
			if err := wipeCollection(tx, collection); err != nil {
				return err
			}
		}

		records, err := tx.FindRecordsByFilter("tournament", "", "", 1, 0)
		if err == nil && len(records) > 0 {
			records[0].Set("status", TournamentSetup)
			if err := tx.Save(records[0]); err != nil {
				return fmt.Errorf("reset tournament status: %w", err)
			}
		}
		return nil
	})
}

// WipeAll removes everything, tournament and rosters included.
func WipeAll(app core.App) error {
	return app.RunInTransaction(func(tx core.App) error {
		for _, collection := range []string{"matches", "match_events", "veto_states", "teams", "servers", "tournament"} {
			if err := wipeCollection(tx, collection); err != nil {
				return err
			}
		}
		return nil
	})
}

// WipeTable empties a single operator-visible table.
func WipeTable(app core.App, table string) error {
	switch table {
	case "teams", "servers", "tournament", "matches":
	default:
		return fmt.Errorf("%w: unknown table %q", ErrValidation, table)
	}
	return app.RunInTransaction(func(tx core.App) error {
		if table == "matches" {
			// Match rows imply event log and veto rows.
			for _, collection := range []string{"match_events", "veto_states"} {
				if err := wipeCollection(tx, collection); err != nil {
					return err
				}
			}
		}
		return wipeCollection(tx, table)
	})
}

func wipeCollection(app core.App, name string) error {
	records, err := app.FindRecordsByFilter(name, "", "", 0, 0)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("wipe %s: %w", name, ErrUnavailable)
	}
	for _, r := range records {
		if err := app.Delete(r); err != nil {
			return fmt.Errorf("wipe %s: %w", name, err)
		}
	}
	return nil
}
