// Package hub is the in-process publish/subscribe channel feeding operator
// and team-view clients. Delivery is best effort: every subscriber owns a
// bounded buffer, overflow drops the oldest message and delivers a single
// stale sentinel telling the client to refetch. Correctness lives in the
// store, never here.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Topics carried over the push channel. The names are part of the client
// contract and must not change.
const (
	TopicMatch      = "match:update"
	TopicBracket    = "bracket:update"
	TopicTournament = "tournament:update"
	TopicStale      = "stale"
)

// Bracket update actions.
const (
	ActionBracketRegenerated  = "bracket_regenerated"
	ActionTournamentReset     = "tournament_reset"
	ActionTournamentStarted   = "tournament_started"
	ActionTournamentCompleted = "tournament_completed"
	ActionMatchReady          = "match_ready"
	ActionMatchLoaded         = "match_loaded"
	ActionMatchStatus         = "match_status"
	ActionServerAssigned      = "server_assigned"
	ActionMatchRestarted      = "match_restarted"
)

// SubscriberBuffer is the per-subscriber queue length.
const SubscriberBuffer = 64

// Message is one framed event. Data is marshaled once at publish time and
// shared by every subscriber.
type Message struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// MatchUpdate is the merge-patch payload of a match:update message. All
// fields are optional; subscribers overlay them onto their local state.
type MatchUpdate struct {
	Slug             string `json:"slug"`
	Status           string `json:"status,omitempty"`
	ServerID         string `json:"serverId,omitempty"`
	Team1Score       *int   `json:"team1Score,omitempty"`
	Team2Score       *int   `json:"team2Score,omitempty"`
	ConnectionStatus string `json:"connectionStatus,omitempty"`
	LiveStats        any    `json:"liveStats,omitempty"`
	Action           string `json:"action,omitempty"`
}

// BracketUpdate is the payload of bracket:update and tournament:update.
type BracketUpdate struct {
	Action    string `json:"action"`
	MatchSlug string `json:"matchSlug,omitempty"`
	Status    string `json:"status,omitempty"`
	ServerID  string `json:"serverId,omitempty"`
}

var staleData = json.RawMessage(`{"reason":"buffer_overflow","refetch":true}`)

// Subscriber receives messages over C until Close (or hub shutdown) closes
// it.
type Subscriber struct {
	C chan Message

	hub   *Hub
	stale bool // a stale sentinel is already queued
}

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans published messages out to the current subscribers.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{C: make(chan Message, SubscriberBuffer), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.C)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.C)
	}
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish marshals the payload and offers it to every subscriber.
func (h *Hub) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("hub payload not serializable", "topic", topic, "error", err)
		return
	}
	msg := Message{Topic: topic, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		h.offer(s, msg)
	}
}

// offer delivers without ever blocking the publisher. On a full buffer the
// oldest message is dropped; the first drop of a burst is replaced by a
// stale sentinel so the client knows to refetch.
func (h *Hub) offer(s *Subscriber, msg Message) {
	evicted := false
	for {
		select {
		case s.C <- msg:
			// Only an uncontended delivery re-arms the sentinel; during
			// a sustained burst one sentinel covers all the drops.
			if !evicted {
				s.stale = false
			}
			return
		default:
		}

		// Full: evict the oldest entry.
		evicted = true
		select {
		case <-s.C:
		default:
		}

		if !s.stale {
			s.stale = true
			select {
			case s.C <- Message{Topic: TopicStale, Data: staleData}:
			default:
			}
		}
	}
}

// Close shuts the hub down and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.C)
	}
}

// MatchChanged publishes a match:update patch.
func (h *Hub) MatchChanged(update MatchUpdate) {
	h.Publish(TopicMatch, update)
}

// BracketChanged publishes a bracket:update action.
func (h *Hub) BracketChanged(update BracketUpdate) {
	h.Publish(TopicBracket, update)
}

// TournamentChanged publishes a tournament:update action.
func (h *Hub) TournamentChanged(action string) {
	h.Publish(TopicTournament, BracketUpdate{Action: action})
}
