// Package veto implements the map veto protocol run between the two teams
// of a match. Step order is deterministic per series format; the scheduler
// acts for a silent team when a step times out, so a disengaged team can
// never stall the bracket.
package veto

import (
	"fmt"
	"slices"
	"time"

	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// StepSpec is one planned step of the protocol.
type StepSpec struct {
	Actor  string // team1 | team2
	Action string // ban | pick | side_pick
}

// Plan returns the deterministic step sequence for a format and pool size.
// The trailing decider map is implicit and not part of the plan.
func Plan(format string, poolSize int) ([]StepSpec, error) {
	numMaps, err := store.NumMapsForFormat(format)
	if err != nil {
		return nil, err
	}
	if poolSize < numMaps {
		return nil, fmt.Errorf("%w: pool of %d maps cannot host a %s", store.ErrValidation, poolSize, format)
	}

	switch format {
	case store.FormatBo1:
		// Alternating bans until a single map remains.
		steps := make([]StepSpec, 0, poolSize-1)
		for i := 0; i < poolSize-1; i++ {
			steps = append(steps, StepSpec{Actor: actorForTurn(i), Action: store.VetoBan})
		}
		return steps, nil

	case store.FormatBo3:
		// team1 ban, team2 ban, team1 pick, team2 side, team2 pick,
		// team1 side, team1 ban, team2 ban, remaining map is the decider.
		// Smaller pools shed bans from the front, then from the back.
		bans := poolSize - 3
		leading := min(2, bans)
		trailing := bans - leading

		steps := make([]StepSpec, 0, bans+4)
		for i := 0; i < leading; i++ {
			steps = append(steps, StepSpec{Actor: actorForTurn(i), Action: store.VetoBan})
		}
		steps = append(steps,
			StepSpec{Actor: "team1", Action: store.VetoPick},
			StepSpec{Actor: "team2", Action: store.VetoSidePick},
			StepSpec{Actor: "team2", Action: store.VetoPick},
			StepSpec{Actor: "team1", Action: store.VetoSidePick},
		)
		for i := 0; i < trailing; i++ {
			steps = append(steps, StepSpec{Actor: actorForTurn(i), Action: store.VetoBan})
		}
		return steps, nil

	case store.FormatBo5:
		// team1 ban, team2 ban, then alternating pick+side pairs,
		// remaining map is the decider.
		bans := poolSize - 5
		steps := make([]StepSpec, 0, bans+8)
		for i := 0; i < bans; i++ {
			steps = append(steps, StepSpec{Actor: actorForTurn(i), Action: store.VetoBan})
		}
		steps = append(steps,
			StepSpec{Actor: "team1", Action: store.VetoPick},
			StepSpec{Actor: "team2", Action: store.VetoSidePick},
			StepSpec{Actor: "team2", Action: store.VetoPick},
			StepSpec{Actor: "team1", Action: store.VetoSidePick},
			StepSpec{Actor: "team1", Action: store.VetoPick},
			StepSpec{Actor: "team2", Action: store.VetoSidePick},
			StepSpec{Actor: "team2", Action: store.VetoPick},
			StepSpec{Actor: "team1", Action: store.VetoSidePick},
		)
		return steps, nil
	}

	return nil, fmt.Errorf("%w: unknown format %q", store.ErrValidation, format)
}

func actorForTurn(i int) string {
	if i%2 == 0 {
		return "team1"
	}
	return "team2"
}

// New initializes the veto state for a match. A pool that leaves no choice
// (bo1 over a single map) completes immediately with no bans recorded.
func New(matchSlug, format string, pool []string, deadline time.Time) (*store.VetoState, error) {
	plan, err := Plan(format, len(pool))
	if err != nil {
		return nil, err
	}

	v := &store.VetoState{
		MatchSlug:     matchSlug,
		Steps:         []store.VetoStep{},
		AvailableMaps: slices.Clone(pool),
		PickedMaps:    []string{},
		Deadline:      deadline,
	}
	if len(plan) == 0 {
		finish(v)
	}
	return v, nil
}

// NextStep returns the step the protocol expects next.
func NextStep(v *store.VetoState, format string) (StepSpec, error) {
	plan, err := Plan(format, poolSize(v))
	if err != nil {
		return StepSpec{}, err
	}
	if v.Complete || v.CurrentStep >= len(plan) {
		return StepSpec{}, fmt.Errorf("%w: veto for %s is complete", store.ErrConflict, v.MatchSlug)
	}
	return plan[v.CurrentStep], nil
}

// Apply performs one step. Actor and action must match the plan; bans and
// picks must name an available map; side picks choose ct or t.
func Apply(v *store.VetoState, format, actor, action, mapKey, side string, auto bool) error {
	expected, err := NextStep(v, format)
	if err != nil {
		return err
	}
	if actor != expected.Actor {
		return fmt.Errorf("%w: it is %s's turn, not %s's", store.ErrConflict, expected.Actor, actor)
	}
	if action != expected.Action {
		return fmt.Errorf("%w: expected %s from %s, got %s", store.ErrConflict, expected.Action, expected.Actor, action)
	}

	step := store.VetoStep{Actor: actor, Action: action, Auto: auto}

	switch action {
	case store.VetoBan, store.VetoPick:
		idx := slices.Index(v.AvailableMaps, mapKey)
		if idx < 0 {
			return fmt.Errorf("%w: map %q is not available", store.ErrValidation, mapKey)
		}
		v.AvailableMaps = slices.Delete(v.AvailableMaps, idx, idx+1)
		step.MapKey = mapKey
		if action == store.VetoPick {
			v.PickedMaps = append(v.PickedMaps, mapKey)
		}

	case store.VetoSidePick:
		if side != "ct" && side != "t" {
			return fmt.Errorf("%w: side must be ct or t, got %q", store.ErrValidation, side)
		}
		step.SideChoice = side
		step.MapKey = mapKey
		if mapKey == "" && len(v.PickedMaps) > 0 {
			step.MapKey = v.PickedMaps[len(v.PickedMaps)-1]
		}
	}

	v.Steps = append(v.Steps, step)
	v.CurrentStep++

	plan, _ := Plan(format, poolSize(v))
	if v.CurrentStep >= len(plan) {
		finish(v)
	}
	return nil
}

// AutoAct performs the next step on behalf of the team whose turn it is:
// the left-most available map for bans and picks, CT for side picks.
func AutoAct(v *store.VetoState, format string) error {
	expected, err := NextStep(v, format)
	if err != nil {
		return err
	}

	switch expected.Action {
	case store.VetoBan, store.VetoPick:
		if len(v.AvailableMaps) == 0 {
			return fmt.Errorf("%w: no maps left to %s", store.ErrConflict, expected.Action)
		}
		return Apply(v, format, expected.Actor, expected.Action, v.AvailableMaps[0], "", true)
	default:
		return Apply(v, format, expected.Actor, expected.Action, "", "ct", true)
	}
}

// finish appends the remaining map as the decider and seals the state.
func finish(v *store.VetoState) {
	if len(v.AvailableMaps) > 0 {
		v.PickedMaps = append(v.PickedMaps, v.AvailableMaps[0])
		v.AvailableMaps = v.AvailableMaps[1:]
	}
	v.Complete = true
	v.Deadline = time.Time{}
}

// poolSize recovers the original pool size from the state: maps still
// available plus every map a ban or pick consumed.
func poolSize(v *store.VetoState) int {
	n := len(v.AvailableMaps)
	for _, s := range v.Steps {
		if s.Action == store.VetoBan || s.Action == store.VetoPick {
			n++
		}
	}
	return n
}

// MapSides derives the plugin's map_sides list from the completed veto:
// the opposing team's side choice per picked map, knife for the decider.
func MapSides(v *store.VetoState) []string {
	sideByMap := map[string]string{}
	for _, s := range v.Steps {
		if s.Action == store.VetoSidePick && s.MapKey != "" {
			sideByMap[s.MapKey] = fmt.Sprintf("%s_%s", s.Actor, s.SideChoice)
		}
	}

	sides := make([]string, 0, len(v.PickedMaps))
	for _, m := range v.PickedMaps {
		if side, ok := sideByMap[m]; ok {
			sides = append(sides, side)
		} else {
			sides = append(sides, "knife")
		}
	}
	return sides
}
