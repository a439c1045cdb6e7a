// Package ingest receives webhook events from the game plugin, normalizes
// their ad-hoc payload shapes into canonical events, and interprets them in
// append order through one serial queue per match slug.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// Event is the canonical, source-shape-free form of one plugin event.
type Event struct {
	MatchSlug string
	Kind      string

	MapName   string
	MapNumber int
	NumMaps   int

	Score1       int
	Score2       int
	SeriesScore1 int
	SeriesScore2 int
	RoundNumber  int

	// Winner is the slot ("team1"/"team2") named by the payload.
	Winner string

	// Per-player fields; which ones are set depends on Kind.
	SteamID    string
	PlayerName string
	PlayerTeam string
	IsReady    bool

	AttackerSteamID string
	AttackerName    string
	VictimSteamID   string
	VictimName      string
	Weapon          string
	Headshot        bool

	Kills     int
	Deaths    int
	Assists   int
	Damage    int
	Headshots int

	// Veto fields.
	ActorTeam string
	Side      string

	TS time.Time
}

// Event kinds the interpreter understands. Anything else is stored but not
// interpreted.
const (
	KindSeriesStart       = "series_start"
	KindSeriesEnd         = "series_end"
	KindMapResult         = "map_result"
	KindMapPicked         = "map_picked"
	KindMapVetoed         = "map_vetoed"
	KindSidePicked        = "side_picked"
	KindGoingLive         = "going_live"
	KindRoundEnd          = "round_end"
	KindRoundMVP          = "round_mvp"
	KindPlayerConnect     = "player_connect"
	KindPlayerDisconnect  = "player_disconnect"
	KindPlayerDeath       = "player_death"
	KindPlayerStatsUpdate = "player_stats_update"
	KindPlayerReady       = "player_ready"
	KindBombPlanted       = "bomb_planted"
	KindBombDefused       = "bomb_defused"
	KindBombExploded      = "bomb_exploded"
)

// Normalize converts a raw webhook body into a canonical event. It is
// deliberately forgiving: the plugin and its forks disagree on casing and
// nesting, so every field is probed under its known aliases. Warnings call
// out degraded extractions (like a synthesized steam id) without failing
// the event.
func Normalize(raw []byte) (Event, []string, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return Event{}, nil, fmt.Errorf("%w: event body is not a JSON object: %v", store.ErrValidation, err)
	}

	ev := Event{
		MatchSlug: str(body, "matchid", "matchId", "match_id", "matchSlug", "match_slug"),
		Kind:      str(body, "event", "eventKind", "kind"),
		TS:        time.Now(),
	}
	if ev.MatchSlug == "" {
		return Event{}, nil, fmt.Errorf("%w: event has no match id", store.ErrValidation)
	}
	if ev.Kind == "" {
		return Event{}, nil, fmt.Errorf("%w: event has no kind", store.ErrValidation)
	}

	var warnings []string

	ev.MapName = str(body, "map_name", "mapName", "map")
	ev.MapNumber = num(body, "map_number", "mapNumber", "map_num")
	ev.NumMaps = num(body, "num_maps", "numMaps")
	ev.Score1 = num(body, "team1_score", "team1Score", "score1")
	ev.Score2 = num(body, "team2_score", "team2Score", "score2")
	ev.SeriesScore1 = num(body, "team1_series_score", "team1SeriesScore", "series_score1")
	ev.SeriesScore2 = num(body, "team2_series_score", "team2SeriesScore", "series_score2")
	ev.RoundNumber = num(body, "round_number", "roundNumber", "round")
	ev.Weapon = str(body, "weapon")
	ev.Headshot = boolean(body, "headshot", "is_headshot", "isHeadshot")
	ev.ActorTeam = str(body, "team", "actor", "actor_team")
	ev.Side = str(body, "side", "side_choice", "sideChoice")
	ev.IsReady = boolean(body, "is_ready", "isReady", "ready")

	// winner comes as "team1" or as {"team":"team1","side":"ct"}.
	switch w := body["winner"].(type) {
	case string:
		ev.Winner = w
	case map[string]any:
		ev.Winner = str(w, "team")
		if ev.Side == "" {
			ev.Side = str(w, "side")
		}
	}

	if p, ok := playerField(body, "player"); ok {
		id, name, warn := extractPlayer(p, 0)
		ev.SteamID, ev.PlayerName = id, name
		if warn != "" {
			warnings = append(warnings, warn)
		}
		if ev.PlayerTeam == "" {
			ev.PlayerTeam = playerTeam(p)
		}
	}
	if ev.PlayerTeam == "" {
		ev.PlayerTeam = normalizeSlot(ev.ActorTeam)
	}

	if a, ok := playerField(body, "attacker"); ok {
		id, name, warn := extractPlayer(a, 0)
		ev.AttackerSteamID, ev.AttackerName = id, name
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}
	if v, ok := playerField(body, "victim"); ok {
		id, name, warn := extractPlayer(v, 1)
		ev.VictimSteamID, ev.VictimName = id, name
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}

	// Cumulative stat lines ride either at the top level or under "stats".
	stats := body
	if nested, ok := body["stats"].(map[string]any); ok {
		stats = nested
	}
	ev.Kills = num(stats, "kills")
	ev.Deaths = num(stats, "deaths")
	ev.Assists = num(stats, "assists")
	ev.Damage = num(stats, "damage")
	ev.Headshots = num(stats, "headshots", "headshot_kills")

	return ev, warnings, nil
}

// playerField fetches a player-shaped value under a key, tolerating a bare
// steam id string.
func playerField(body map[string]any, key string) (any, bool) {
	v, ok := body[key]
	if !ok || v == nil {
		// Some payloads flatten the player into "<key>_steamid"/"steamid".
		if id := str(body, key+"_steamid", key+"SteamId"); id != "" {
			return map[string]any{"steamid": id, "name": str(body, key+"_name", key+"Name")}, true
		}
		if key == "player" {
			if id := str(body, "steamid", "steamId", "steam_id"); id != "" {
				return map[string]any{"steamid": id, "name": str(body, "name", "player_name")}, true
			}
		}
		return nil, false
	}
	return v, true
}

// extractPlayer resolves one player value of any of the shapes the plugin
// forks emit: a bare steam id string, {steamid,name}, {steamId,name}, or
// {name:{steamId,...}}. When no id can be found one is synthesized from the
// index and a warning is returned.
func extractPlayer(v any, index int) (steamID, name, warning string) {
	switch p := v.(type) {
	case string:
		return p, "", ""
	case float64:
		return strconv.FormatInt(int64(p), 10), "", ""
	case map[string]any:
		name = str(p, "name", "player_name", "displayName")
		if id := str(p, "steamid", "steam_id"); id != "" {
			return id, name, ""
		}
		if id := str(p, "steamId", "steamID"); id != "" {
			return id, name, ""
		}
		if nested, ok := p["name"].(map[string]any); ok {
			if id := str(nested, "steamId", "steamid"); id != "" {
				return id, str(nested, "name"), ""
			}
		}
	}
	steamID = fmt.Sprintf("player_%d", index)
	return steamID, name, fmt.Sprintf("no steam id in player payload, synthesized %q", steamID)
}

func playerTeam(v any) string {
	if p, ok := v.(map[string]any); ok {
		return normalizeSlot(str(p, "team", "side"))
	}
	return ""
}

// normalizeSlot keeps only explicit slot names. Side names (CT/TERRORIST)
// are not mapped because sides swap at halftime.
func normalizeSlot(team string) string {
	if team == "team1" || team == "team2" {
		return team
	}
	return ""
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

func boolean(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k].(bool); ok {
			return v
		}
	}
	return false
}
