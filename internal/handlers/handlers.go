// Package handlers wires the HTTP surface: operator CRUD, tournament
// lifecycle, plugin-facing config documents and the webhook ingest
// endpoint. Handlers stay thin; all state changes go through the store,
// the match state machine or the scheduler.
package handlers

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/config"
	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/ingest"
	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/rcon"
	"github.com/sivert-io/matchzy-auto-tournament/internal/scheduler"
	"github.com/sivert-io/matchzy-auto-tournament/internal/steam"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

type Handlers struct {
	cfg       *config.Config
	sched     *scheduler.Scheduler
	interp    *ingest.Interpreter
	tracker   *match.Tracker
	events    *hub.Hub
	commander rcon.Commander
	resolver  *steam.Resolver
	logger    *slog.Logger
}

func New(
	cfg *config.Config,
	sched *scheduler.Scheduler,
	interp *ingest.Interpreter,
	tracker *match.Tracker,
	events *hub.Hub,
	commander rcon.Commander,
	resolver *steam.Resolver,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		cfg:       cfg,
		sched:     sched,
		interp:    interp,
		tracker:   tracker,
		events:    events,
		commander: commander,
		resolver:  resolver,
		logger:    logger,
	}
}

// Register binds every route. Public routes (the plugin config document,
// the team views, the webhook ingest and the websocket) sit outside the
// bearer-token group.
func (h *Handlers) Register(e *core.ServeEvent) {
	// Plugin-facing and spectator-facing routes, no operator token.
	// "{slug}.json" shares the pattern with the operator match detail, so
	// the handler branches on the suffix and checks the token itself.
	e.Router.GET("/api/matches/{slug}", h.matchDetailOrConfig)
	e.Router.GET("/api/team/{teamId}/match", h.teamCurrentMatch)
	e.Router.GET("/api/team/{teamId}/history", h.teamHistory)
	e.Router.GET("/api/team/{teamId}/stats", h.teamStats)
	e.Router.POST("/api/events", h.ingestEvent)
	e.Router.GET("/api/ws", func(re *core.RequestEvent) error {
		h.events.ServeWS(re.Response, re.Request)
		return nil
	})

	api := e.Router.Group("/api")
	api.BindFunc(h.requireOperator)

	api.GET("/teams", h.listTeams)
	api.POST("/teams", h.createTeam)
	api.POST("/teams/batch", h.batchTeams)
	api.PUT("/teams/{id}", h.updateTeam)
	api.DELETE("/teams/{id}", h.deleteTeam)
	api.POST("/steam/resolve", h.resolveSteam)

	api.GET("/servers", h.listServers)
	api.POST("/servers", h.createServer)
	api.POST("/servers/batch", h.batchServers)
	api.PUT("/servers/{id}", h.updateServer)
	api.DELETE("/servers/{id}", h.deleteServer)

	api.GET("/tournament", h.getTournament)
	api.PUT("/tournament", h.putTournament)
	api.POST("/tournament/start", h.startTournament)
	api.POST("/tournament/reset", h.resetTournament)
	api.POST("/tournament/wipe-database", h.wipeDatabase)
	api.POST("/tournament/wipe-table/{table}", h.wipeTable)
	api.GET("/tournament/bracket", h.bracketView)

	api.GET("/matches", h.listMatches)
	api.POST("/matches/{slug}/load", h.loadMatch)

	api.GET("/events/orphans", h.orphanEvents)
	api.GET("/events/live/{slug}", h.liveStats)
	api.GET("/events/connections/{slug}", h.connections)
	api.GET("/events/{slug}", h.matchEvents)

	api.POST("/rcon/pause", h.rconAdmin(rcon.Pause))
	api.POST("/rcon/unpause", h.rconAdmin(rcon.Unpause))
	api.POST("/rcon/start-match", h.rconAdmin(rcon.ForceStart))
	api.POST("/rcon/end-warmup", h.rconAdmin(rcon.EndWarmup))
	api.POST("/rcon/add-backup-player", h.addBackupPlayer)
	api.POST("/rcon/broadcast", h.broadcast)

	api.GET("/demos/{slug}/download", h.downloadDemo)
	api.GET("/demos/{slug}/download/{mapNumber}", h.downloadDemo)
}

// requireOperator checks the bearer token on the operator API group.
func (h *Handlers) requireOperator(re *core.RequestEvent) error {
	if !h.operatorAuthorized(re) {
		return re.JSON(http.StatusUnauthorized, map[string]any{"error": "invalid or missing bearer token"})
	}
	return re.Next()
}

func (h *Handlers) operatorAuthorized(re *core.RequestEvent) bool {
	auth := re.Request.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.APIToken)) == 1
}

// fail maps store sentinel errors onto HTTP statuses.
func fail(re *core.RequestEvent, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrStale):
		status = http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	return re.JSON(status, map[string]any{"error": err.Error()})
}

func ok(re *core.RequestEvent, body any) error {
	return re.JSON(http.StatusOK, body)
}
