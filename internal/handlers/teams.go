package handlers

import (
	"fmt"
	"net/http"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

var steamID64Pattern = regexp.MustCompile(`^7656119\d{10}$`)

type teamRequest struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Tag           string         `json:"tag"`
	DiscordRoleID string         `json:"discordRoleId"`
	Players       []store.Player `json:"players"`
}

func (r teamRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Tag, validation.Length(0, 4)),
		validation.Field(&r.Players, validation.By(validatePlayers)),
	)
}

func validatePlayers(value any) error {
	players, _ := value.([]store.Player)
	for i, p := range players {
		if p.Name == "" {
			return fmt.Errorf("player %d has no name", i+1)
		}
		if !steamID64Pattern.MatchString(p.SteamID) {
			return fmt.Errorf("player %q has invalid SteamID64 %q", p.Name, p.SteamID)
		}
	}
	return nil
}

func (r teamRequest) toTeam() *store.Team {
	return &store.Team{
		ID:            r.ID,
		Name:          r.Name,
		Tag:           r.Tag,
		DiscordRoleID: r.DiscordRoleID,
		Players:       r.Players,
	}
}

func (h *Handlers) listTeams(re *core.RequestEvent) error {
	teams, err := store.ListTeams(re.App)
	if err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"teams": teams})
}

func (h *Handlers) createTeam(re *core.RequestEvent) error {
	var req teamRequest
	if err := re.BindBody(&req); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}
	if err := req.Validate(); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}

	team := req.toTeam()
	if re.Request.URL.Query().Get("upsert") != "true" {
		probe := team.ID
		if probe == "" {
			probe = team.Name
		}
		if existing, err := store.FindTeam(re.App, probe); err == nil {
			return fail(re, fmt.Errorf("%w: team %s already exists", store.ErrConflict, existing.ID))
		}
	}

	if err := store.UpsertTeam(re.App, team); err != nil {
		return fail(re, err)
	}
	return re.JSON(http.StatusCreated, map[string]any{"team": team})
}

func (h *Handlers) batchTeams(re *core.RequestEvent) error {
	var reqs []teamRequest
	if err := re.BindBody(&reqs); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}

	teams := make([]*store.Team, 0, len(reqs))
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return fail(re, fmt.Errorf("%w: team %d: %s", store.ErrValidation, i+1, err))
		}
		teams = append(teams, req.toTeam())
	}

	err := re.App.RunInTransaction(func(tx core.App) error {
		for _, team := range teams {
			if err := store.UpsertTeam(tx, team); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fail(re, err)
	}
	return re.JSON(http.StatusCreated, map[string]any{"teams": teams, "count": len(teams)})
}

func (h *Handlers) updateTeam(re *core.RequestEvent) error {
	id := re.Request.PathValue("id")
	if _, err := store.FindTeam(re.App, id); err != nil {
		return fail(re, err)
	}

	var req teamRequest
	if err := re.BindBody(&req); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}
	if err := req.Validate(); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}

	team := req.toTeam()
	team.ID = id
	if err := store.UpsertTeam(re.App, team); err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"team": team})
}

func (h *Handlers) deleteTeam(re *core.RequestEvent) error {
	if err := store.DeleteTeam(re.App, re.Request.PathValue("id")); err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"success": true})
}

func (h *Handlers) resolveSteam(re *core.RequestEvent) error {
	var req struct {
		Input string `json:"input"`
	}
	if err := re.BindBody(&req); err != nil || req.Input == "" {
		return fail(re, fmt.Errorf("%w: input is required", store.ErrValidation))
	}

	player, err := h.resolver.Resolve(re.Request.Context(), req.Input)
	if err != nil {
		return re.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	}
	return ok(re, map[string]any{"player": player})
}
