package rcon

import (
	"context"
	"fmt"
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// Admin console commands understood by the MatchZy plugin.
const (
	cmdPause      = "css_pause"
	cmdUnpause    = "css_unpause"
	cmdEndWarmup  = "matchzy_endwarmup"
	cmdForceStart = "matchzy_forcestart"
)

// PushConfig wires a server to this process and points it at a match
// config document. Commands are sent in order; each one is retried with
// exponential backoff before the push as a whole fails.
type PushConfig struct {
	BaseURL     string
	ServerToken string
	Retries     int           // attempts per command, default 3
	Backoff     time.Duration // base delay between attempts, default 500ms
}

func (c *PushConfig) defaults() {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
}

// PushMatch sends the four MatchZy cvars that make a server report its
// events here and load the match identified by slug.
func PushMatch(ctx context.Context, commander Commander, srv *store.Server, slug string, cfg PushConfig) error {
	cfg.defaults()

	commands := []string{
		fmt.Sprintf(`matchzy_remote_log_url "%s/api/events"`, cfg.BaseURL),
		`matchzy_remote_log_header_key "X-MatchZy-Token"`,
		fmt.Sprintf(`matchzy_remote_log_header_value "%s"`, cfg.ServerToken),
		fmt.Sprintf(`matchzy_loadmatch_url "%s/api/matches/%s.json"`, cfg.BaseURL, slug),
	}
	for _, cmd := range commands {
		if err := sendWithRetry(ctx, commander, srv, cmd, cfg.Retries, cfg.Backoff); err != nil {
			return fmt.Errorf("pushing match %s to %s: %w", slug, srv.ID, err)
		}
	}
	return nil
}

func sendWithRetry(ctx context.Context, commander Commander, srv *store.Server, command string, retries int, backoff time.Duration) error {
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff << uint(attempt-1)):
			}
		}
		if _, err = commander.SendCommand(ctx, srv, command); err == nil {
			return nil
		}
	}
	return err
}

// Pause pauses the match on a server.
func Pause(ctx context.Context, c Commander, srv *store.Server) (string, error) {
	return c.SendCommand(ctx, srv, cmdPause)
}

// Unpause resumes a paused match.
func Unpause(ctx context.Context, c Commander, srv *store.Server) (string, error) {
	return c.SendCommand(ctx, srv, cmdUnpause)
}

// EndWarmup ends the warmup phase.
func EndWarmup(ctx context.Context, c Commander, srv *store.Server) (string, error) {
	return c.SendCommand(ctx, srv, cmdEndWarmup)
}

// ForceStart starts the match regardless of ready states.
func ForceStart(ctx context.Context, c Commander, srv *store.Server) (string, error) {
	return c.SendCommand(ctx, srv, cmdForceStart)
}

// AddBackupPlayer registers a stand-in on one side of the running match.
func AddBackupPlayer(ctx context.Context, c Commander, srv *store.Server, steamID, team, name string) (string, error) {
	return c.SendCommand(ctx, srv, fmt.Sprintf(`matchzy_addplayertoteam %s %s "%s"`, steamID, team, name))
}

// Say shows a chat message on a server.
func Say(ctx context.Context, c Commander, srv *store.Server, message string) (string, error) {
	return c.SendCommand(ctx, srv, fmt.Sprintf(`say "%s"`, message))
}

// BroadcastStats summarizes a fan-out broadcast.
type BroadcastStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Broadcast says a message on every given server, continuing past
// individual failures.
func Broadcast(ctx context.Context, c Commander, servers []*store.Server, message string) BroadcastStats {
	stats := BroadcastStats{Total: len(servers)}
	for _, srv := range servers {
		if _, err := Say(ctx, c, srv, message); err != nil {
			stats.Failed++
			continue
		}
		stats.Successful++
	}
	return stats
}
