package handlers

import (
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

type serverRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RconPassword string `json:"rconPassword"`
	Enabled      *bool  `json:"enabled"`
}

func (r serverRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Host, validation.Required),
		validation.Field(&r.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&r.RconPassword, validation.Required),
	)
}

func (r serverRequest) toServer() *store.Server {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &store.Server{
		ID:           r.ID,
		Name:         r.Name,
		Host:         r.Host,
		Port:         r.Port,
		RconPassword: r.RconPassword,
		Enabled:      enabled,
	}
}

func (h *Handlers) listServers(re *core.RequestEvent) error {
	servers, err := store.ListServers(re.App)
	if err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"servers": servers})
}

func (h *Handlers) createServer(re *core.RequestEvent) error {
	var req serverRequest
	if err := re.BindBody(&req); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}
	if err := req.Validate(); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}

	srv := req.toServer()
	if re.Request.URL.Query().Get("upsert") != "true" {
		probe := srv.ID
		if probe == "" {
			probe = srv.Name
		}
		if existing, err := store.FindServer(re.App, probe); err == nil {
			return fail(re, fmt.Errorf("%w: server %s already exists", store.ErrConflict, existing.ID))
		}
	}

	if err := store.UpsertServer(re.App, srv); err != nil {
		return fail(re, err)
	}
	return re.JSON(http.StatusCreated, map[string]any{"server": srv})
}

func (h *Handlers) batchServers(re *core.RequestEvent) error {
	var reqs []serverRequest
	if err := re.BindBody(&reqs); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}

	servers := make([]*store.Server, 0, len(reqs))
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return fail(re, fmt.Errorf("%w: server %d: %s", store.ErrValidation, i+1, err))
		}
		servers = append(servers, req.toServer())
	}

	err := re.App.RunInTransaction(func(tx core.App) error {
		for _, srv := range servers {
			if err := store.UpsertServer(tx, srv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fail(re, err)
	}
	return re.JSON(http.StatusCreated, map[string]any{"servers": servers, "count": len(servers)})
}

func (h *Handlers) updateServer(re *core.RequestEvent) error {
	id := re.Request.PathValue("id")
	if _, err := store.FindServer(re.App, id); err != nil {
		return fail(re, err)
	}

	var req serverRequest
	if err := re.BindBody(&req); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}
	if err := req.Validate(); err != nil {
		return fail(re, fmt.Errorf("%w: %s", store.ErrValidation, err))
	}

	srv := req.toServer()
	srv.ID = id
	if err := store.UpsertServer(re.App, srv); err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"server": srv})
}

func (h *Handlers) deleteServer(re *core.RequestEvent) error {
	if err := store.DeleteServer(re.App, re.Request.PathValue("id")); err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"success": true})
}
