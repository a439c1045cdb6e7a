package handlers

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/rcon"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

type adminCommand func(context.Context, rcon.Commander, *store.Server) (string, error)

// rconAdmin wraps the single-server admin commands (pause, unpause,
// force start, end warmup) into a handler taking {serverId}.
func (h *Handlers) rconAdmin(cmd adminCommand) func(*core.RequestEvent) error {
	return func(re *core.RequestEvent) error {
		var req struct {
			ServerID string `json:"serverId"`
		}
		if err := re.BindBody(&req); err != nil || req.ServerID == "" {
			return fail(re, fmt.Errorf("%w: serverId is required", store.ErrValidation))
		}

		srv, err := store.FindServer(re.App, req.ServerID)
		if err != nil {
			return fail(re, err)
		}

		ctx, cancel := context.WithTimeout(re.Request.Context(), h.cfg.RconTimeout())
		defer cancel()

		response, err := cmd(ctx, h.commander, srv)
		if err != nil {
			return fail(re, fmt.Errorf("%w: %s", store.ErrUnavailable, err))
		}
		return ok(re, map[string]any{"success": true, "response": response})
	}
}

// addBackupPlayer whitelists a substitute on a running match's server.
func (h *Handlers) addBackupPlayer(re *core.RequestEvent) error {
	var req struct {
		ServerID string `json:"serverId"`
		SteamID  string `json:"steamId"`
		Team     string `json:"team"`
		Name     string `json:"name"`
	}
	if err := re.BindBody(&req); err != nil || req.ServerID == "" || req.SteamID == "" {
		return fail(re, fmt.Errorf("%w: serverId and steamId are required", store.ErrValidation))
	}
	if req.Team != "team1" && req.Team != "team2" {
		return fail(re, fmt.Errorf("%w: team must be team1 or team2", store.ErrValidation))
	}
	if !steamID64Pattern.MatchString(req.SteamID) {
		return fail(re, fmt.Errorf("%w: %q is not a SteamID64", store.ErrValidation, req.SteamID))
	}

	srv, err := store.FindServer(re.App, req.ServerID)
	if err != nil {
		return fail(re, err)
	}

	ctx, cancel := context.WithTimeout(re.Request.Context(), h.cfg.RconTimeout())
	defer cancel()

	response, err := rcon.AddBackupPlayer(ctx, h.commander, srv, req.SteamID, req.Team, req.Name)
	if err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrUnavailable, err))
	}
	return ok(re, map[string]any{"success": true, "response": response})
}

// broadcast says a chat message on the given servers, or on every enabled
// server when none are named.
func (h *Handlers) broadcast(re *core.RequestEvent) error {
	var req struct {
		Message   string   `json:"message"`
		ServerIDs []string `json:"serverIds"`
	}
	if err := re.BindBody(&req); err != nil || req.Message == "" {
		return fail(re, fmt.Errorf("%w: message is required", store.ErrValidation))
	}

	var servers []*store.Server
	if len(req.ServerIDs) > 0 {
		for _, id := range req.ServerIDs {
			srv, err := store.FindServer(re.App, id)
			if err != nil {
				return fail(re, err)
			}
			servers = append(servers, srv)
		}
	} else {
		all, err := store.ListServers(re.App)
		if err != nil {
			return fail(re, err)
		}
		for _, srv := range all {
			if srv.Enabled {
				servers = append(servers, srv)
			}
		}
	}

	ctx, cancel := context.WithTimeout(re.Request.Context(), h.cfg.RconTimeout()*4)
	defer cancel()

	stats := rcon.Broadcast(ctx, h.commander, servers, req.Message)
	return ok(re, map[string]any{
		"success": stats.Failed == 0,
		"message": fmt.Sprintf("broadcast reached %d of %d servers", stats.Successful, stats.Total),
		"stats":   stats,
	})
}
