package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// Webhook payloads above this size are rejected outright.
const maxEventBody = 1 << 20

// ingestEvent is the plugin webhook endpoint. Every authenticated payload
// is appended to the durable log before interpretation, and the response
// is 200 even for unknown event kinds or match slugs: the plugin retries
// on non-2xx and a replayed event is worth more than a lost one.
func (h *Handlers) ingestEvent(re *core.RequestEvent) error {
	token := re.Request.Header.Get("X-MatchZy-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.ServerToken)) != 1 {
		return re.JSON(http.StatusUnauthorized, map[string]any{"error": "invalid server token"})
	}

	body, err := io.ReadAll(io.LimitReader(re.Request.Body, maxEventBody))
	if err != nil {
		return fail(re, fmt.Errorf("%w: read body: %s", store.ErrValidation, err))
	}

	var probe struct {
		MatchID string `json:"matchid"`
		Event   string `json:"event"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fail(re, fmt.Errorf("%w: payload is not a JSON object", store.ErrValidation))
	}
	if probe.MatchID == "" || probe.Event == "" {
		return fail(re, fmt.Errorf("%w: payload needs matchid and event", store.ErrValidation))
	}

	ev := &store.MatchEvent{
		MatchSlug:     probe.MatchID,
		Kind:          probe.Event,
		Payload:       body,
		CorrelationID: uuid.New().String(),
	}
	if err := store.AppendEvent(re.App, ev); err != nil {
		return fail(re, err)
	}
	h.interp.Schedule(ev)

	return ok(re, map[string]any{"success": true, "message": "Event received"})
}

func (h *Handlers) matchEvents(re *core.RequestEvent) error {
	slug := re.Request.PathValue("slug")

	filter := store.EventFilter{Kind: re.Request.URL.Query().Get("type")}
	if raw := re.Request.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	events, err := store.ListEvents(re.App, slug, filter)
	if err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"events": events, "count": len(events)})
}

func (h *Handlers) liveStats(re *core.RequestEvent) error {
	slug := re.Request.PathValue("slug")
	stats, found := h.tracker.Snapshot(slug)
	if !found {
		return fail(re, fmt.Errorf("%w: no live stats for match %s", store.ErrNotFound, slug))
	}
	return ok(re, map[string]any{"liveStats": stats})
}

func (h *Handlers) connections(re *core.RequestEvent) error {
	slug := re.Request.PathValue("slug")
	m, err := store.FindMatch(re.App, slug)
	if err != nil {
		return fail(re, err)
	}

	connected := h.tracker.Connections(slug)
	expected := m.Config.ExpectedPlayersTotal
	return ok(re, map[string]any{
		"players":          connected,
		"connected":        len(connected),
		"expected":         expected,
		"connectionStatus": fmt.Sprintf("%d/%d", len(connected), expected),
	})
}

func (h *Handlers) orphanEvents(re *core.RequestEvent) error {
	limit := 0
	if raw := re.Request.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	orphans, err := store.ListOrphanEvents(re.App, limit)
	if err != nil {
		return fail(re, err)
	}
	return ok(re, map[string]any{"events": orphans, "count": len(orphans)})
}
