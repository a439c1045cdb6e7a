// Package steam resolves operator-entered player identifiers (steam64,
// steam2, steam3, profile URLs, vanity names) into the canonical
// {steamId64, displayName} pair.
package steam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/leighmacdonald/steamid/v3/steamid"
	"github.com/leighmacdonald/steamweb/v2"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// ErrNotConfigured is returned when no Steam API key is set. The resolve
// endpoint surfaces the message verbatim.
var ErrNotConfigured = errors.New("Steam API is not configured")

var (
	steam2Pattern = regexp.MustCompile(`^STEAM_[0-5]:[01]:\d+$`)
	steam3Pattern = regexp.MustCompile(`^\[?U:1:\d+\]?$`)
	digitsPattern = regexp.MustCompile(`^\d{17}$`)
)

// Parse converts the offline-decodable formats to a steam64 string without
// touching the network. Vanity names need Resolve.
func Parse(input string) (string, error) {
	input = strings.TrimSpace(input)

	switch {
	case digitsPattern.MatchString(input):
		sid, err := steamid.SID64FromString(input)
		if err != nil || !sid.Valid() {
			return "", fmt.Errorf("%w: invalid steam64 %q", store.ErrValidation, input)
		}
		return sid.String(), nil
	case steam2Pattern.MatchString(input):
		sid := steamid.SIDToSID64(steamid.SID(input))
		if !sid.Valid() {
			return "", fmt.Errorf("%w: invalid steam2 id %q", store.ErrValidation, input)
		}
		return sid.String(), nil
	case steam3Pattern.MatchString(input):
		if !strings.HasPrefix(input, "[") {
			input = "[" + input + "]"
		}
		sid := steamid.SID3ToSID64(steamid.SID3(input))
		if !sid.Valid() {
			return "", fmt.Errorf("%w: invalid steam3 id %q", store.ErrValidation, input)
		}
		return sid.String(), nil
	}
	return "", fmt.Errorf("%w: %q is not a steam id", store.ErrValidation, input)
}

// Resolver turns arbitrary player identifiers into players, using the
// Steam Web API for vanity names and display names.
type Resolver struct {
	configured bool
	logger     *slog.Logger
}

// NewResolver registers the API key with the steamid library. An empty key
// leaves the resolver disabled.
func NewResolver(apiKey string, logger *slog.Logger) *Resolver {
	r := &Resolver{logger: logger}
	if apiKey == "" {
		return r
	}
	if err := steamid.SetKey(apiKey); err != nil {
		logger.Warn("steam api key rejected, resolver disabled", "error", err)
		return r
	}
	r.configured = true
	return r
}

// Configured reports whether the Web API is usable.
func (r *Resolver) Configured() bool {
	return r.configured
}

// Resolve looks up a player. Offline formats never require the API; vanity
// names and display-name enrichment do.
func (r *Resolver) Resolve(ctx context.Context, input string) (*store.Player, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty steam id", store.ErrValidation)
	}

	if id, err := Parse(input); err == nil {
		p := &store.Player{SteamID: id}
		r.enrich(ctx, p)
		return p, nil
	}

	if !r.configured {
		return nil, ErrNotConfigured
	}

	sid, err := steamid.ResolveSID64(ctx, input)
	if err != nil || !sid.Valid() {
		return nil, fmt.Errorf("%w: could not resolve %q", store.ErrNotFound, input)
	}
	p := &store.Player{SteamID: sid.String()}
	r.enrich(ctx, p)
	return p, nil
}

// enrich fills the display name from player summaries, best effort.
func (r *Resolver) enrich(ctx context.Context, p *store.Player) {
	if !r.configured {
		return
	}
	sid, err := steamid.SID64FromString(p.SteamID)
	if err != nil {
		return
	}
	summaries, err := steamweb.PlayerSummaries(ctx, steamid.Collection{sid})
	if err != nil || len(summaries) == 0 {
		r.logger.Debug("player summary lookup failed", "steamId", p.SteamID, "error", err)
		return
	}
	p.Name = summaries[0].PersonaName
}
