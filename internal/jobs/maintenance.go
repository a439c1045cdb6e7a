// Package jobs registers the background maintenance crons: pruning live
// scoreboards nobody feeds anymore and trimming the event log of long
// finished matches.
package jobs

import (
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/match"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// Scoreboards without webhook traffic for this long are dropped from memory.
const trackerIdle = 2 * time.Hour

// Event log rows of matches completed this long ago are removed.
const eventRetention = 30 * 24 * time.Hour

// RegisterTrackerPrune drops idle live scoreboards every ten minutes. The
// persisted match record is untouched; only the in-memory snapshot goes.
func RegisterTrackerPrune(app core.App, tracker *match.Tracker, logger *slog.Logger) {
	scheduler := app.Cron()

	scheduler.MustAdd("tracker_prune", "*/10 * * * *", func() {
		dropped := tracker.Prune(time.Now().Add(-trackerIdle))
		if len(dropped) > 0 {
			logger.Info("pruned idle live scoreboards", "count", len(dropped), "slugs", dropped)
		}
	})

	logger.Info("registered cron job to prune idle live scoreboards every 10 minutes")
}

// RegisterEventTrim removes event log rows of matches that completed more
// than thirty days ago, daily at 3 AM UTC.
func RegisterEventTrim(app core.App, logger *slog.Logger) {
	scheduler := app.Cron()

	scheduler.MustAdd("event_trim", "0 3 * * *", func() {
		trimOldEvents(app, logger)
	})

	logger.Info("registered cron job to trim old match events daily at 3 AM UTC")
}

func trimOldEvents(app core.App, logger *slog.Logger) {
	cutoff := time.Now().Add(-eventRetention)

	old, err := app.FindRecordsByFilter(
		"matches",
		"status = {:completed} && completed_at != '' && completed_at < {:cutoff}",
		"", 0, 0,
		dbx.Params{"completed": store.MatchCompleted, "cutoff": cutoff.UTC().Format(time.RFC3339)},
	)
	if err != nil || len(old) == 0 {
		return
	}

	removed := 0
	for _, m := range old {
		slug := m.GetString("slug")
		events, err := app.FindRecordsByFilter(
			"match_events",
			"match_slug = {:slug}",
			"", 0, 0,
			dbx.Params{"slug": slug},
		)
		if err != nil {
			continue
		}
		for _, ev := range events {
			if err := app.Delete(ev); err != nil {
				logger.Warn("event trim delete failed", "slug", slug, "error", err)
				break
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Info("trimmed old match events", "events", removed, "matches", len(old))
	}
}
