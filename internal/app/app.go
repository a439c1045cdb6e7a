// Package app assembles the tournament control plane on top of
// PocketBase: config, logging, the broadcast hub, the webhook
// interpreter, the scheduler, the RCON pool, the demo watcher and the
// HTTP surface.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/spf13/cobra"

	"github.com/sivert-io/matchzy-auto-tournament/internal/config"
	"github.com/sivert-io/matchzy-auto-tournament/internal/demos"
	"github.com/sivert-io/matchzy-auto-tournament/internal/handlers"
	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/ingest"
	"github.com/sivert-io/matchzy-auto-tournament/internal/jobs"
	"github.com/sivert-io/matchzy-auto-tournament/internal/logger"
	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/rcon"
	"github.com/sivert-io/matchzy-auto-tournament/internal/scheduler"
	"github.com/sivert-io/matchzy-auto-tournament/internal/steam"
)

const pidFile = "matchzy-tournament.pid"

// App wraps PocketBase with the control-plane components.
type App struct {
	*pocketbase.PocketBase

	Config      *config.Config
	Hub         *hub.Hub
	Tracker     *match.Tracker
	Interpreter *ingest.Interpreter
	Scheduler   *scheduler.Scheduler
	RconPool    *rcon.Pool
	DemoWatcher *demos.Watcher
	Resolver    *steam.Resolver

	customLogger *slog.Logger
	logCloser    io.Closer

	// Injected at build time via ldflags.
	Version string
}

func New() (*App, error) {
	return NewWithVersion("dev")
}

func NewWithVersion(version string) (*App, error) {
	app := &App{
		PocketBase: pocketbase.New(),
		Version:    version,
	}

	if err := app.setupServices(); err != nil {
		return nil, fmt.Errorf("setup services: %w", err)
	}
	app.setupPlugins()

	return app, nil
}

func (app *App) setupServices() error {
	cfgVal := app.Store().GetOrSet("config", func() any {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return cfg
	})
	if err, ok := cfgVal.(error); ok {
		return fmt.Errorf("load config: %w", err)
	}
	app.Config = cfgVal.(*config.Config)

	if err := app.setupLogger(); err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}

	app.Hub = app.Store().GetOrSet("hub", func() any {
		return hub.New(app.Logger().With("component", "HUB"))
	}).(*hub.Hub)

	app.Tracker = app.Store().GetOrSet("tracker", func() any {
		return match.NewTracker()
	}).(*match.Tracker)

	app.RconPool = app.Store().GetOrSet("rconpool", func() any {
		return rcon.NewPool(app.Config.RconTimeout(), app.Logger().With("component", "RCON"))
	}).(*rcon.Pool)

	app.Resolver = app.Store().GetOrSet("steam", func() any {
		return steam.NewResolver(app.Config.SteamAPIKey, app.Logger().With("component", "STEAM"))
	}).(*steam.Resolver)

	return nil
}

func (app *App) setupPlugins() {
	migratecmd.MustRegister(app.PocketBase, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	app.RootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("matchzy-auto-tournament version %s\n", app.Version)
		},
	})
}

// Bootstrap registers the serve and terminate hooks, then opens the data
// directory and applies pending migrations so a broken store surfaces here
// rather than mid-serve. Start skips its own bootstrap once this ran.
func (app *App) Bootstrap() error {
	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		return app.onServe(e)
	})
	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		return app.onTerminate(e)
	})
	return app.PocketBase.Bootstrap()
}

func (app *App) onServe(e *core.ServeEvent) error {
	log := app.Logger().With("component", "APP")

	if err := app.Config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// PID file for shutdown and update coordination.
	pid := []byte(strconv.Itoa(os.Getpid()))
	if err := os.WriteFile(pidFile, pid, 0o644); err != nil {
		log.Warn("could not write pid file", "error", err)
	}

	// Ingest pipeline: webhook events wake the scheduler after relevant
	// state changes (completions, veto progress).
	app.Scheduler = scheduler.New(
		app.PocketBase,
		app.Config,
		app.RconPool,
		app.Hub,
		app.Logger().With("component", "SCHEDULER"),
	)
	app.Interpreter = ingest.New(
		app.PocketBase,
		app.Tracker,
		app.Hub,
		app.Scheduler.Wake,
		app.Logger().With("component", "INGEST"),
	)

	watcher, err := demos.NewWatcher(app.PocketBase, app.Config.DemoDir, app.Logger().With("component", "DEMOS"))
	if err != nil {
		return fmt.Errorf("create demo watcher: %w", err)
	}
	app.DemoWatcher = watcher
	if err := app.DemoWatcher.Start(); err != nil {
		return fmt.Errorf("start demo watcher: %w", err)
	}

	h := handlers.New(
		app.Config,
		app.Scheduler,
		app.Interpreter,
		app.Tracker,
		app.Hub,
		app.RconPool,
		app.Resolver,
		app.Logger().With("component", "HTTP"),
	)
	h.Register(e)

	jobs.RegisterTrackerPrune(app.PocketBase, app.Tracker, app.Logger().With("component", "JOBS"))
	jobs.RegisterEventTrim(app.PocketBase, app.Logger().With("component", "JOBS"))

	app.Scheduler.Start()

	log.Info("tournament control plane started",
		"version", app.Version,
		"baseUrl", app.Config.BaseURL,
		"tick", app.Config.Tick().String(),
		"configFile", config.Exists(),
	)
	return e.Next()
}

// onTerminate tears the pipeline down back to front: no new webhook work,
// drain the interpreter, stop the loop, then close outbound connections.
func (app *App) onTerminate(e *core.TerminateEvent) error {
	os.Remove(pidFile)
	if app.DemoWatcher != nil {
		app.DemoWatcher.Stop()
	}
	if app.Interpreter != nil {
		app.Interpreter.Close()
	}
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.RconPool != nil {
		app.RconPool.CloseAll()
	}
	if app.Hub != nil {
		app.Hub.Close()
	}
	if app.logCloser != nil {
		time.Sleep(10 * time.Millisecond) // let in-flight log lines land
		app.logCloser.Close()
	}
	return e.Next()
}

// Logger returns the tee logger once configured, the PocketBase default
// before that.
func (app *App) Logger() *slog.Logger {
	if app.customLogger != nil {
		return app.customLogger
	}
	return app.PocketBase.Logger()
}

func (app *App) setupLogger() error {
	logPath := filepath.Join("logs", fmt.Sprintf("matchzy-tournament.%s.log", time.Now().Format("2006-01-02")))
	l, closer, err := logger.New(app.Config.Logging, logPath)
	if err != nil {
		return err
	}
	app.customLogger = l
	app.logCloser = closer
	return nil
}
