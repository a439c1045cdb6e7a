package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/hub"
	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
	"github.com/sivert-io/matchzy-auto-tournament/internal/veto"
)

const (
	queueSize   = 256
	workerIdle  = 5 * time.Minute
	staleRetire = "interpreter idle, retiring"
)

// Interpreter replays appended events against the match state machine, one
// serial goroutine per active match slug. Workers are spawned on the first
// event for a slug and retire after five idle minutes; events across
// different slugs interleave freely.
type Interpreter struct {
	app     core.App
	tracker *match.Tracker
	events  *hub.Hub
	logger  *slog.Logger

	// wake nudges the scheduler after a completion so advancement and
	// server reuse do not wait for the next tick.
	wake func()

	mu     sync.Mutex
	queues map[string]chan *store.MatchEvent
	closed bool

	wg      sync.WaitGroup
	dropped atomic.Int64
}

func New(app core.App, tracker *match.Tracker, events *hub.Hub, wake func(), logger *slog.Logger) *Interpreter {
	if wake == nil {
		wake = func() {}
	}
	return &Interpreter{
		app:     app,
		tracker: tracker,
		events:  events,
		logger:  logger,
		wake:    wake,
		queues:  make(map[string]chan *store.MatchEvent),
	}
}

// Schedule enqueues an already-appended event for interpretation. It never
// blocks the caller: when the per-slug queue is full the event is dropped
// from interpretation (it remains in the log) and a counter records it.
func (i *Interpreter) Schedule(ev *store.MatchEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}

	q, ok := i.queues[ev.MatchSlug]
	if !ok {
		q = make(chan *store.MatchEvent, queueSize)
		i.queues[ev.MatchSlug] = q
		i.wg.Add(1)
		go i.worker(ev.MatchSlug, q)
	}

	select {
	case q <- ev:
	default:
		i.dropped.Add(1)
		i.logger.Warn("interpreter queue full, event not interpreted",
			"slug", ev.MatchSlug, "kind", ev.Kind, "seq", ev.Seq)
	}
}

// Dropped returns how many events overflowed their queue.
func (i *Interpreter) Dropped() int64 {
	return i.dropped.Load()
}

// Close stops accepting events and waits for the workers to drain.
func (i *Interpreter) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	for _, q := range i.queues {
		close(q)
	}
	i.mu.Unlock()
	i.wg.Wait()
}

func (i *Interpreter) worker(slug string, q chan *store.MatchEvent) {
	defer i.wg.Done()
	idle := time.NewTimer(workerIdle)
	defer idle.Stop()

	for {
		select {
		case ev, ok := <-q:
			if !ok {
				// Shutdown: drain what is already queued.
				for ev := range q {
					i.interpret(ev)
				}
				return
			}
			i.interpret(ev)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(workerIdle)

		case <-idle.C:
			if i.retire(slug, q) {
				i.logger.Debug(staleRetire, "slug", slug)
				return
			}
			idle.Reset(workerIdle)
		}
	}
}

// retire removes the queue if nothing raced in while the timer fired.
func (i *Interpreter) retire(slug string, q chan *store.MatchEvent) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed || len(q) > 0 {
		return false
	}
	delete(i.queues, slug)
	return true
}

// interpret applies one event. Failures are logged, never propagated: the
// webhook response already went out when we get here, and the event log
// keeps the ground truth for a later rebuild.
func (i *Interpreter) interpret(rec *store.MatchEvent) {
	ev, warnings, err := Normalize(rec.Payload)
	if err != nil {
		i.logger.Warn("event not interpretable", "slug", rec.MatchSlug, "seq", rec.Seq, "error", err)
		return
	}
	for _, w := range warnings {
		i.logger.Warn("degraded event payload", "slug", rec.MatchSlug, "kind", ev.Kind, "detail", w)
	}

	if err := i.apply(ev); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			i.logger.Debug("event for unknown match left as orphan", "slug", ev.MatchSlug, "kind", ev.Kind)
		case errors.Is(err, store.ErrConflict):
			i.logger.Warn("event rejected by state machine", "slug", ev.MatchSlug, "kind", ev.Kind, "error", err)
		default:
			i.logger.Error("event interpretation failed", "slug", ev.MatchSlug, "kind", ev.Kind, "error", err)
		}
	}
}

func (i *Interpreter) apply(ev Event) error {
	switch ev.Kind {
	case KindSeriesStart:
		return i.seriesStart(ev)
	case KindSeriesEnd:
		return i.seriesEnd(ev)
	case KindMapResult:
		return i.mapResult(ev)
	case KindGoingLive:
		return i.goingLive(ev)
	case KindRoundEnd:
		i.tracker.SetRound(ev.MatchSlug, ev.RoundNumber, ev.Score1, ev.Score2)
		i.events.MatchChanged(hub.MatchUpdate{
			Slug:       ev.MatchSlug,
			Team1Score: &ev.Score1,
			Team2Score: &ev.Score2,
		})
		return nil
	case KindRoundMVP:
		i.tracker.RecordMVP(ev.MatchSlug, ev.SteamID)
		return nil
	case KindPlayerConnect:
		return i.playerConnect(ev)
	case KindPlayerDisconnect:
		return i.playerDisconnect(ev)
	case KindPlayerReady:
		i.tracker.SetReady(ev.MatchSlug, ev.SteamID, ev.IsReady)
		return nil
	case KindPlayerDeath:
		i.tracker.RecordDeath(ev.MatchSlug, ev.AttackerSteamID, ev.AttackerName,
			ev.VictimSteamID, ev.VictimName, ev.Headshot)
		return nil
	case KindPlayerStatsUpdate:
		i.tracker.ReplaceStats(ev.MatchSlug, match.PlayerStats{
			SteamID:   ev.SteamID,
			Name:      ev.PlayerName,
			Team:      ev.PlayerTeam,
			Kills:     ev.Kills,
			Deaths:    ev.Deaths,
			Assists:   ev.Assists,
			Damage:    ev.Damage,
			Headshots: ev.Headshots,
		})
		return nil
	case KindMapPicked, KindMapVetoed, KindSidePicked:
		return i.vetoEvent(ev)
	case KindBombPlanted, KindBombDefused, KindBombExploded:
		// Statistic only; kept in the log.
		return nil
	}

	i.logger.Debug("unknown event kind stored but not interpreted", "slug", ev.MatchSlug, "kind", ev.Kind)
	return nil
}

func (i *Interpreter) seriesStart(ev Event) error {
	m, err := store.MutateMatch(i.app, ev.MatchSlug, func(m *store.Match) error {
		return match.MarkLive(m, time.Now())
	})
	if err != nil {
		return err
	}

	i.tracker.SetStatus(ev.MatchSlug, store.MatchLive)
	total := ev.NumMaps
	if total == 0 {
		total = m.Config.NumMaps
	}
	i.tracker.SetSeries(ev.MatchSlug, m.Team1SeriesScore, m.Team2SeriesScore, total)

	i.events.MatchChanged(hub.MatchUpdate{Slug: ev.MatchSlug, Status: store.MatchLive})
	i.events.BracketChanged(hub.BracketUpdate{
		Action:    hub.ActionMatchStatus,
		MatchSlug: ev.MatchSlug,
		Status:    store.MatchLive,
	})
	return nil
}

func (i *Interpreter) seriesEnd(ev Event) error {
	var tiebreak bool
	m, err := store.MutateMatch(i.app, ev.MatchSlug, func(m *store.Match) error {
		if ev.SeriesScore1+ev.SeriesScore2 > 0 {
			m.Team1SeriesScore = ev.SeriesScore1
			m.Team2SeriesScore = ev.SeriesScore2
		}

		// An even series can end tied; the match stays live awaiting a
		// tiebreak map the scheduler appends.
		if match.NeedsTiebreak(m) {
			tiebreak = true
			return nil
		}

		var winner string
		switch ev.Winner {
		case "team1":
			winner = m.Team1
		case "team2":
			winner = m.Team2
		default:
			winner = match.SeriesWinner(m)
		}
		if winner == "" {
			return fmt.Errorf("%w: series for %s ended without a winner", store.ErrConflict, m.Slug)
		}
		return match.Complete(m, winner, time.Now())
	})
	if err != nil {
		return err
	}

	if tiebreak {
		i.logger.Info("series tied, awaiting tiebreak map", "slug", m.Slug,
			"score", fmt.Sprintf("%d-%d", m.Team1SeriesScore, m.Team2SeriesScore))
		i.wake()
		return nil
	}

	i.tracker.SetStatus(ev.MatchSlug, store.MatchCompleted)
	i.tracker.SetSeries(ev.MatchSlug, m.Team1SeriesScore, m.Team2SeriesScore, m.Config.NumMaps)

	i.events.MatchChanged(hub.MatchUpdate{Slug: ev.MatchSlug, Status: store.MatchCompleted})
	i.events.BracketChanged(hub.BracketUpdate{
		Action:    hub.ActionMatchStatus,
		MatchSlug: ev.MatchSlug,
		Status:    store.MatchCompleted,
	})
	i.wake()
	return nil
}

func (i *Interpreter) mapResult(ev Event) error {
	m, err := store.MutateMatch(i.app, ev.MatchSlug, func(m *store.Match) error {
		match.ApplyMapResult(m, store.MapResult{
			MapNumber:  ev.MapNumber,
			MapName:    ev.MapName,
			Team1Score: ev.Score1,
			Team2Score: ev.Score2,
		})
		m.Team1Score = ev.Score1
		m.Team2Score = ev.Score2
		return nil
	})
	if err != nil {
		return err
	}

	i.tracker.SetSeries(ev.MatchSlug, m.Team1SeriesScore, m.Team2SeriesScore, m.Config.NumMaps)
	i.events.MatchChanged(hub.MatchUpdate{
		Slug:       ev.MatchSlug,
		Team1Score: &ev.Score1,
		Team2Score: &ev.Score2,
	})
	return nil
}

func (i *Interpreter) goingLive(ev Event) error {
	_, err := store.MutateMatch(i.app, ev.MatchSlug, func(m *store.Match) error {
		if m.Status != store.MatchLoaded && m.Status != store.MatchLive {
			return fmt.Errorf("%w: match %s cannot go live from %s", store.ErrConflict, m.Slug, m.Status)
		}
		m.MatchPhase = store.PhaseLive
		return nil
	})
	if err != nil {
		return err
	}

	i.tracker.SetMap(ev.MatchSlug, ev.MapNumber, ev.MapName)
	i.events.MatchChanged(hub.MatchUpdate{Slug: ev.MatchSlug, Action: "going_live"})
	return nil
}

func (i *Interpreter) playerConnect(ev Event) error {
	m, err := store.FindMatch(i.app, ev.MatchSlug)
	if err != nil {
		return err
	}

	i.tracker.Connect(ev.MatchSlug, match.ConnectedPlayer{
		SteamID: ev.SteamID,
		Name:    ev.PlayerName,
		Team:    ev.PlayerTeam,
	})
	i.publishConnection(m)
	return nil
}

func (i *Interpreter) playerDisconnect(ev Event) error {
	m, err := store.FindMatch(i.app, ev.MatchSlug)
	if err != nil {
		return err
	}

	i.tracker.Disconnect(ev.MatchSlug, ev.SteamID)
	i.publishConnection(m)
	return nil
}

func (i *Interpreter) publishConnection(m *store.Match) {
	connected := i.tracker.ConnectedCount(m.Slug)
	expected := m.Config.ExpectedPlayersTotal
	status := fmt.Sprintf("%d/%d", connected, expected)
	if expected == 0 {
		status = fmt.Sprintf("%d", connected)
	}
	i.events.MatchChanged(hub.MatchUpdate{Slug: m.Slug, ConnectionStatus: status})
}

// vetoEvent mirrors a plugin-driven veto step into the persisted veto
// state. Normally this system runs the veto itself and the plugin is told
// to skip its own, but the step events are honored for setups that let the
// plugin drive.
func (i *Interpreter) vetoEvent(ev Event) error {
	m, err := store.FindMatch(i.app, ev.MatchSlug)
	if err != nil {
		return err
	}
	t, err := store.GetTournament(i.app)
	if err != nil {
		return err
	}
	v, err := store.FindVetoState(i.app, ev.MatchSlug)
	if err != nil {
		return err
	}
	if v.Complete {
		return nil
	}

	action := store.VetoPick
	switch ev.Kind {
	case KindMapVetoed:
		action = store.VetoBan
	case KindSidePicked:
		action = store.VetoSidePick
	}

	actor := normalizeSlot(ev.ActorTeam)
	if actor == "" {
		actor = m.TeamSlot(ev.ActorTeam)
	}
	if actor == "" {
		return fmt.Errorf("%w: veto event without an actor for %s", store.ErrValidation, ev.MatchSlug)
	}

	if err := veto.Apply(v, t.Format, actor, action, ev.MapName, ev.Side, false); err != nil {
		return err
	}
	if err := store.SaveVetoState(i.app, v); err != nil {
		return err
	}

	if v.Complete {
		if _, err := store.MutateMatch(i.app, ev.MatchSlug, func(m *store.Match) error {
			m.VetoCompleted = true
			m.Config.Maplist = v.PickedMaps
			return nil
		}); err != nil {
			return err
		}
		i.wake()
	}

	i.events.MatchChanged(hub.MatchUpdate{Slug: ev.MatchSlug, Action: ev.Kind})
	return nil
}
