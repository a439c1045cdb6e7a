// Package scheduler drives the tournament forward: it generates brackets,
// runs vetoes, binds ready matches to available servers, pushes match
// configs over RCON, advances winners, and reclaims freed servers. One
// cooperative loop per process; everything it does is idempotent against
// the persisted state so a restart just resumes.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/config"
	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/rcon"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

type Scheduler struct {
	app       core.App
	cfg       *config.Config
	commander rcon.Commander
	events    *hub.Hub
	logger    *slog.Logger

	// baseURL may be overridden by the start request.
	mu      sync.Mutex
	baseURL string

	wakeCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(app core.App, cfg *config.Config, commander rcon.Commander, events *hub.Hub, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		app:       app,
		cfg:       cfg,
		commander: commander,
		events:    events,
		logger:    logger,
		baseURL:   cfg.BaseURL,
		wakeCh:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the control loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("scheduler started", "tick", s.cfg.Tick().String())
}

// Stop cancels the loop and waits for the current cycle to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Wake requests an immediate cycle, coalescing concurrent requests.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick())
	defer ticker.Stop()

	// Run once at startup so a restart resumes without waiting a tick.
	s.RunCycle()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle()
		case <-s.wakeCh:
			s.RunCycle()
		}
	}
}

// RunCycle performs one pass of the control loop. Exported so tests and
// the start/load handlers can drive the scheduler synchronously.
func (s *Scheduler) RunCycle() {
	t, err := store.GetTournament(s.app)
	if err != nil {
		return // nothing to do before a tournament exists
	}
	if t.Status != store.TournamentInProgress {
		return
	}

	// Order matters: completions first so their servers and child slots
	// are visible to the allocation pass in the same cycle.
	s.completeWalkovers()
	s.advanceBracket(t)
	s.arrangeTiebreaks(t)
	s.driveVetoes(t)
	s.allocate()
	s.probeStale()
	s.maybeCompleteTournament(t)
}

func (s *Scheduler) base() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

func (s *Scheduler) setBase(u string) {
	if u == "" {
		return
	}
	s.mu.Lock()
	s.baseURL = u
	s.mu.Unlock()
}
