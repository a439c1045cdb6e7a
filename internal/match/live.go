package match

import (
	"sync"
	"time"
)

// PlayerStats is the cumulative scoreboard line for one player.
type PlayerStats struct {
	SteamID   string `json:"steamId"`
	Name      string `json:"name"`
	Team      string `json:"team"` // team1 | team2
	Kills     int    `json:"kills"`
	Deaths    int    `json:"deaths"`
	Assists   int    `json:"assists"`
	Headshots int    `json:"headshots"`
	Damage    int    `json:"damage"`
	MVPs      int    `json:"mvps"`
}

// ConnectedPlayer is a player currently on the server of a match.
type ConnectedPlayer struct {
	SteamID     string    `json:"steamId"`
	Name        string    `json:"name"`
	Team        string    `json:"team"`
	ConnectedAt time.Time `json:"connectedAt"`
	IsReady     bool      `json:"isReady"`
}

// LiveStats is the materialized scoreboard snapshot for one match.
type LiveStats struct {
	MatchSlug        string        `json:"matchSlug"`
	Status           string        `json:"status"`
	Team1Score       int           `json:"team1Score"`
	Team2Score       int           `json:"team2Score"`
	Team1SeriesScore int           `json:"team1SeriesScore"`
	Team2SeriesScore int           `json:"team2SeriesScore"`
	RoundNumber      int           `json:"roundNumber"`
	MapNumber        int           `json:"mapNumber"`
	MapName          string        `json:"mapName"`
	TotalMaps        int           `json:"totalMaps"`
	Team1Players     []PlayerStats `json:"team1Players"`
	Team2Players     []PlayerStats `json:"team2Players"`
}

type liveEntry struct {
	stats     LiveStats
	players   map[string]*PlayerStats     // by steam id
	connected map[string]*ConnectedPlayer // by steam id
	touched   time.Time
}

// Tracker caches live state derived from the event log, one entry per match
// slug. The event log stays the source of truth; entries can be dropped and
// rebuilt at any time. Writes come from the per-slug interpreters, reads
// from HTTP handlers, so every read hands out a copy.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*liveEntry
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*liveEntry)}
}

func (t *Tracker) entry(slug string) *liveEntry {
	e, ok := t.entries[slug]
	if !ok {
		e = &liveEntry{
			stats:     LiveStats{MatchSlug: slug},
			players:   make(map[string]*PlayerStats),
			connected: make(map[string]*ConnectedPlayer),
		}
		t.entries[slug] = e
	}
	e.touched = time.Now()
	return e
}

func (t *Tracker) player(e *liveEntry, steamID, name, team string) *PlayerStats {
	p, ok := e.players[steamID]
	if !ok {
		p = &PlayerStats{SteamID: steamID}
		e.players[steamID] = p
	}
	if name != "" {
		p.Name = name
	}
	if team != "" {
		p.Team = team
	}
	return p
}

// Connect records a player joining the server.
func (t *Tracker) Connect(slug string, p ConnectedPlayer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(slug)
	if p.ConnectedAt.IsZero() {
		p.ConnectedAt = time.Now()
	}
	e.connected[p.SteamID] = &p
	t.player(e, p.SteamID, p.Name, p.Team)
}

// Disconnect removes a player from the connection list. Their scoreboard
// line survives.
func (t *Tracker) Disconnect(slug, steamID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entry(slug).connected, steamID)
}

// SetReady flags a connected player as ready.
func (t *Tracker) SetReady(slug, steamID string, ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.entry(slug).connected[steamID]; ok {
		p.IsReady = ready
	}
}

// RecordDeath bumps the attacker's kills (and headshots) and the victim's
// deaths. A suicide only counts the death.
func (t *Tracker) RecordDeath(slug, attackerID, attackerName, victimID, victimName string, headshot bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(slug)
	if attackerID != "" && attackerID != victimID {
		a := t.player(e, attackerID, attackerName, "")
		a.Kills++
		if headshot {
			a.Headshots++
		}
	}
	if victimID != "" {
		t.player(e, victimID, victimName, "").Deaths++
	}
}

// RecordMVP bumps a player's MVP count.
func (t *Tracker) RecordMVP(slug, steamID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.player(t.entry(slug), steamID, "", "").MVPs++
}

// ReplaceStats overwrites a player's scoreboard line. The plugin sends
// cumulative values, so the newest update always wins.
func (t *Tracker) ReplaceStats(slug string, stats PlayerStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(slug)
	p := t.player(e, stats.SteamID, stats.Name, stats.Team)
	name, team := p.Name, p.Team
	*p = stats
	if p.Name == "" {
		p.Name = name
	}
	if p.Team == "" {
		p.Team = team
	}
}

// SetRound updates the round counter and current map scores.
func (t *Tracker) SetRound(slug string, round, score1, score2 int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(slug)
	e.stats.RoundNumber = round
	e.stats.Team1Score = score1
	e.stats.Team2Score = score2
}

// SetMap updates the current map of the series and resets round counters.
func (t *Tracker) SetMap(slug string, mapNumber int, mapName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(slug)
	e.stats.MapNumber = mapNumber
	e.stats.MapName = mapName
	e.stats.RoundNumber = 0
	e.stats.Team1Score = 0
	e.stats.Team2Score = 0
}

// SetSeries updates the series scores and total map count.
func (t *Tracker) SetSeries(slug string, series1, series2, totalMaps int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(slug)
	e.stats.Team1SeriesScore = series1
	e.stats.Team2SeriesScore = series2
	if totalMaps > 0 {
		e.stats.TotalMaps = totalMaps
	}
}

// SetStatus mirrors the persisted match status into the snapshot.
func (t *Tracker) SetStatus(slug, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(slug).stats.Status = status
}

// Snapshot returns a copy of the live stats for a slug.
func (t *Tracker) Snapshot(slug string) (LiveStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[slug]
	if !ok {
		return LiveStats{}, false
	}
	out := e.stats
	out.Team1Players = nil
	out.Team2Players = nil
	for _, p := range e.players {
		switch p.Team {
		case "team2":
			out.Team2Players = append(out.Team2Players, *p)
		default:
			out.Team1Players = append(out.Team1Players, *p)
		}
	}
	sortStats(out.Team1Players)
	sortStats(out.Team2Players)
	return out, true
}

// Connections returns a copy of the connected-player list for a slug.
func (t *Tracker) Connections(slug string) []ConnectedPlayer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[slug]
	if !ok {
		return nil
	}
	out := make([]ConnectedPlayer, 0, len(e.connected))
	for _, p := range e.connected {
		out = append(out, *p)
	}
	return out
}

// ConnectedCount returns how many players are on the server.
func (t *Tracker) ConnectedCount(slug string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[slug]; ok {
		return len(e.connected)
	}
	return 0
}

// Forget drops the cached entry for a slug.
func (t *Tracker) Forget(slug string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, slug)
}

// Prune drops entries untouched since the cutoff and returns their slugs.
func (t *Tracker) Prune(cutoff time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dropped []string
	for slug, e := range t.entries {
		if e.touched.Before(cutoff) {
			delete(t.entries, slug)
			dropped = append(dropped, slug)
		}
	}
	return dropped
}

// sortStats orders a scoreboard by kills descending, then name.
func sortStats(players []PlayerStats) {
	for i := 1; i < len(players); i++ {
		for j := i; j > 0 && higher(players[j], players[j-1]); j-- {
			players[j], players[j-1] = players[j-1], players[j]
		}
	}
}

func higher(a, b PlayerStats) bool {
	if a.Kills != b.Kills {
		return a.Kills > b.Kills
	}
	return a.Name < b.Name
}
