package store

import (
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// FindVetoState returns the veto progress for a match.
func FindVetoState(app core.App, matchSlug string) (*VetoState, error) {
	r, err := app.FindFirstRecordByFilter("veto_states", "match_slug = {:slug}", dbx.Params{"slug": matchSlug})
	if err != nil {
		return nil, fmt.Errorf("veto state for %s: %w", matchSlug, ErrNotFound)
	}
	return vetoFromRecord(r)
}

func vetoFromRecord(r *core.Record) (*VetoState, error) {
	v := &VetoState{
		MatchSlug:   r.GetString("match_slug"),
		CurrentStep: r.GetInt("current_step"),
		Complete:    r.GetBool("complete"),
	}
	if err := r.UnmarshalJSONField("steps", &v.Steps); err != nil {
		return nil, fmt.Errorf("decode veto steps for %s: %w", v.MatchSlug, err)
	}
	if err := r.UnmarshalJSONField("available_maps", &v.AvailableMaps); err != nil {
		return nil, fmt.Errorf("decode available maps for %s: %w", v.MatchSlug, err)
	}
	if err := r.UnmarshalJSONField("picked_maps", &v.PickedMaps); err != nil {
		return nil, fmt.Errorf("decode picked maps for %s: %w", v.MatchSlug, err)
	}
	v.Deadline = r.GetDateTime("deadline").Time()
	return v, nil
}

// SaveVetoState creates or replaces the veto state for a match.
func SaveVetoState(app core.App, v *VetoState) error {
	r, err := app.FindFirstRecordByFilter("veto_states", "match_slug = {:slug}", dbx.Params{"slug": v.MatchSlug})
	if err != nil {
		collection, err := app.FindCollectionByNameOrId("veto_states")
		if err != nil {
			return fmt.Errorf("veto_states collection: %w", ErrUnavailable)
		}
		r = core.NewRecord(collection)
	}

	r.Set("match_slug", v.MatchSlug)
	r.Set("steps", v.Steps)
	r.Set("current_step", v.CurrentStep)
	r.Set("available_maps", v.AvailableMaps)
	r.Set("picked_maps", v.PickedMaps)
	r.Set("complete", v.Complete)
	if v.Deadline.IsZero() {
		r.Set("deadline", "")
	} else {
		r.Set("deadline", v.Deadline)
	}

	if err := app.Save(r); err != nil {
		return fmt.Errorf("save veto state for %s: %w", v.MatchSlug, err)
	}
	return nil
}

// VetoDeadlinePassed reports whether the current step timed out.
func (v *VetoState) VetoDeadlinePassed(now time.Time) bool {
	return !v.Complete && !v.Deadline.IsZero() && now.After(v.Deadline)
}
