package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tournament types.
const (
	TypeSingleElim = "single_elim"
	TypeDoubleElim = "double_elim"
	TypeRoundRobin = "round_robin"
	TypeSwiss      = "swiss"
)

// Series formats.
const (
	FormatBo1 = "bo1"
	FormatBo3 = "bo3"
	FormatBo5 = "bo5"
)

// Tournament statuses.
const (
	TournamentSetup      = "setup"
	TournamentReady      = "ready"
	TournamentInProgress = "in_progress"
	TournamentCompleted  = "completed"
)

// Match statuses.
const (
	MatchPending   = "pending"
	MatchReady     = "ready"
	MatchLoaded    = "loaded"
	MatchLive      = "live"
	MatchCompleted = "completed"
)

// Match phases reported by the plugin.
const (
	PhaseNone      = "none"
	PhaseWarmup    = "warmup"
	PhaseKnife     = "knife"
	PhaseVeto      = "veto"
	PhaseLive      = "live"
	PhasePostMatch = "post_match"
)

// NumMapsForFormat returns the series length for a format.
func NumMapsForFormat(format string) (int, error) {
	switch format {
	case FormatBo1:
		return 1, nil
	case FormatBo3:
		return 3, nil
	case FormatBo5:
		return 5, nil
	}
	return 0, fmt.Errorf("%w: unknown format %q", ErrValidation, format)
}

// Player is the canonical player representation: SteamID64 plus display name.
type Player struct {
	SteamID string `json:"steamId"`
	Name    string `json:"name"`
}

// Team is an operator-owned roster. ID is the slug derived from the name.
type Team struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Tag           string   `json:"tag,omitempty"`
	DiscordRoleID string   `json:"discordRoleId,omitempty"`
	Players       []Player `json:"players"`
}

// Server is a game server reachable over RCON.
type Server struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RconPassword string `json:"-"`
	Enabled      bool   `json:"enabled"`
}

// Addr returns the host:port RCON address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Tournament is the per-deployment singleton.
type Tournament struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Format  string   `json:"format"`
	MapPool []string `json:"mapPool"`
	TeamIDs []string `json:"teamIds"`
	Status  string   `json:"status"`
}

// ConfigTeam is one side of the match config document the plugin reads.
type ConfigTeam struct {
	Name    string            `json:"name"`
	Players map[string]string `json:"players"`
}

// MatchConfig is persisted per match and served verbatim at
// /api/matches/{slug}.json (plus the veto-derived fields).
type MatchConfig struct {
	Maplist              []string   `json:"maplist"`
	NumMaps              int        `json:"num_maps"`
	PlayersPerTeam       int        `json:"players_per_team"`
	ExpectedPlayersTotal int        `json:"expected_players_total"`
	Team1                ConfigTeam `json:"team1"`
	Team2                ConfigTeam `json:"team2"`
}

// MapResult is the outcome of one map of a series.
type MapResult struct {
	MapNumber    int    `json:"mapNumber"`
	MapName      string `json:"mapName"`
	Team1Score   int    `json:"team1Score"`
	Team2Score   int    `json:"team2Score"`
	DemoFilePath string `json:"demoFilePath,omitempty"`
}

// Match is a bracket node. Slug is the canonical external id.
type Match struct {
	Slug        string `json:"slug"`
	Round       int    `json:"round"`
	MatchNumber int    `json:"matchNumber"`
	BracketTag  string `json:"bracketTag"`

	Team1  string `json:"team1Id,omitempty"`
	Team2  string `json:"team2Id,omitempty"`
	Winner string `json:"winnerId,omitempty"`
	Server string `json:"serverId,omitempty"`

	Status     string `json:"status"`
	MatchPhase string `json:"matchPhase"`

	// Walkover marks a slot the generator knows will stay empty (bye).
	Walkover      bool `json:"walkover,omitempty"`
	VetoCompleted bool `json:"vetoCompleted"`

	Config     MatchConfig `json:"config"`
	MapResults []MapResult `json:"mapResults"`

	Team1Score       int `json:"team1Score"`
	Team2Score       int `json:"team2Score"`
	Team1SeriesScore int `json:"team1SeriesScore"`
	Team2SeriesScore int `json:"team2SeriesScore"`

	DemoFilePaths []string `json:"demoFilePaths"`

	// Bracket wiring: where the winner and loser slots feed into.
	WinnerTo   string `json:"-"`
	WinnerSlot int    `json:"-"`
	LoserTo    string `json:"-"`
	LoserSlot  int    `json:"-"`

	CreatedAt   time.Time `json:"createdAt"`
	ReadyAt     time.Time `json:"readyAt,omitzero"`
	LoadedAt    time.Time `json:"loadedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`

	// Version is the optimistic-lock token. Zero on unsaved matches.
	Version int `json:"-"`
}

// HasBothTeams reports whether both slots are resolved.
func (m *Match) HasBothTeams() bool {
	return m.Team1 != "" && m.Team2 != ""
}

// TeamSlot returns "team1" or "team2" for the given team id, or "".
func (m *Match) TeamSlot(teamID string) string {
	switch teamID {
	case "":
		return ""
	case m.Team1:
		return "team1"
	case m.Team2:
		return "team2"
	}
	return ""
}

// MatchEvent is one entry of the append-only per-match event log.
type MatchEvent struct {
	Seq           int64           `json:"seq"`
	MatchSlug     string          `json:"matchSlug"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

// Veto actions.
const (
	VetoBan      = "ban"
	VetoPick     = "pick"
	VetoSidePick = "side_pick"
)

// VetoStep is one performed step of the veto protocol.
type VetoStep struct {
	Actor      string `json:"actor"` // team1 | team2
	Action     string `json:"action"`
	MapKey     string `json:"mapKey,omitempty"`
	SideChoice string `json:"sideChoice,omitempty"` // ct | t
	Auto       bool   `json:"auto,omitempty"`       // acted by the scheduler on timeout
}

// VetoState is the persisted veto progress for a match.
type VetoState struct {
	MatchSlug     string     `json:"matchSlug"`
	Steps         []VetoStep `json:"steps"`
	CurrentStep   int        `json:"currentStep"`
	AvailableMaps []string   `json:"availableMaps"`
	PickedMaps    []string   `json:"pickedMaps"`
	Complete      bool       `json:"complete"`
	Deadline      time.Time  `json:"deadline,omitzero"`
}
