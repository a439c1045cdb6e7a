package store

import (
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

func eventFromRecord(r *core.Record) *MatchEvent {
	return &MatchEvent{
		Seq:           int64(r.GetInt("seq")),
		MatchSlug:     r.GetString("match_slug"),
		Kind:          r.GetString("kind"),
		Payload:       []byte(r.GetString("payload")),
		CorrelationID: r.GetString("correlation_id"),
		ReceivedAt:    r.GetDateTime("created").Time(),
	}
}

// AppendEvent appends to the event log and assigns ev.Seq, a globally
// monotonically increasing id. The log is append-only; nothing updates or
// deletes rows outside of a tournament reset.
func AppendEvent(app core.App, ev *MatchEvent) error {
	return app.RunInTransaction(func(tx core.App) error {
		collection, err := tx.FindCollectionByNameOrId("match_events")
		if err != nil {
			return fmt.Errorf("match_events collection: %w", ErrUnavailable)
		}

		var maxSeq int64
		if err := tx.DB().
			NewQuery("SELECT COALESCE(MAX(seq), 0) FROM match_events").
			Row(&maxSeq); err != nil {
			return fmt.Errorf("event seq: %w", ErrUnavailable)
		}
		ev.Seq = maxSeq + 1
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now().UTC()
		}

		r := core.NewRecord(collection)
		r.Set("seq", ev.Seq)
		r.Set("match_slug", ev.MatchSlug)
		r.Set("kind", ev.Kind)
		r.Set("payload", string(ev.Payload))
		r.Set("correlation_id", ev.CorrelationID)

		if err := tx.Save(r); err != nil {
			return fmt.Errorf("append event for %s: %w", ev.MatchSlug, err)
		}
		return nil
	})
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	Kind     string
	AfterSeq int64
	Limit    int
}

// ListEvents returns events for one match in append order.
func ListEvents(app core.App, matchSlug string, filter EventFilter) ([]*MatchEvent, error) {
	expr := "match_slug = {:slug} && seq > {:after}"
	params := dbx.Params{"slug": matchSlug, "after": filter.AfterSeq}
	if filter.Kind != "" {
		expr += " && kind = {:kind}"
		params["kind"] = filter.Kind
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	records, err := app.FindRecordsByFilter("match_events", expr, "seq", limit, 0, params)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", matchSlug, ErrUnavailable)
	}

	events := make([]*MatchEvent, 0, len(records))
	for _, r := range records {
		events = append(events, eventFromRecord(r))
	}
	return events, nil
}

// ListOrphanEvents returns events whose slug matches no known match.
// They are kept (forward compatibility) but never interpreted.
func ListOrphanEvents(app core.App, limit int) ([]*MatchEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	records, err := app.FindRecordsByFilter("match_events", "", "seq", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", ErrUnavailable)
	}

	known := map[string]bool{}
	matches, err := app.FindRecordsByFilter("matches", "", "", 0, 0)
	if err == nil {
		for _, m := range matches {
			known[m.GetString("slug")] = true
		}
	}

	orphans := make([]*MatchEvent, 0)
	for _, r := range records {
		if slug := r.GetString("match_slug"); !known[slug] {
			orphans = append(orphans, eventFromRecord(r))
			if len(orphans) >= limit {
				break
			}
		}
	}
	return orphans, nil
}

// LastEventTime returns when the most recent event for a match arrived,
// or the zero time if there is none.
func LastEventTime(app core.App, matchSlug string) (time.Time, error) {
	records, err := app.FindRecordsByFilter(
		"match_events",
		"match_slug = {:slug}",
		"-seq", 1, 0,
		dbx.Params{"slug": matchSlug},
	)
	if err != nil || len(records) == 0 {
		return time.Time{}, nil
	}
	return records[0].GetDateTime("created").Time(), nil
}
