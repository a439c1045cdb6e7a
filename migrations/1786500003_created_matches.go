package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("matches")

		collection.Fields.Add(
			&core.TextField{Name: "slug", Required: true},
			&core.NumberField{Name: "round", OnlyInt: true},
			&core.NumberField{Name: "match_number", OnlyInt: true},
			&core.TextField{Name: "bracket_tag"},
			&core.TextField{Name: "team1"},
			&core.TextField{Name: "team2"},
			&core.TextField{Name: "winner"},
			&core.TextField{Name: "server"},
			&core.SelectField{Name: "status", MaxSelect: 1, Values: []string{
				"pending", "ready", "loaded", "live", "completed",
			}},
			&core.SelectField{Name: "match_phase", MaxSelect: 1, Values: []string{
				"none", "warmup", "knife", "veto", "live", "post_match",
			}},
			&core.BoolField{Name: "walkover"},
			&core.BoolField{Name: "veto_completed"},
			&core.JSONField{Name: "config"},
			&core.JSONField{Name: "map_results"},
			&core.NumberField{Name: "team1_score", OnlyInt: true},
			&core.NumberField{Name: "team2_score", OnlyInt: true},
			&core.NumberField{Name: "team1_series_score", OnlyInt: true},
			&core.NumberField{Name: "team2_series_score", OnlyInt: true},
			&core.JSONField{Name: "demo_file_paths"},
			&core.TextField{Name: "winner_to"},
			&core.NumberField{Name: "winner_slot", OnlyInt: true},
			&core.TextField{Name: "loser_to"},
			&core.NumberField{Name: "loser_slot", OnlyInt: true},
			&core.NumberField{Name: "version", OnlyInt: true},
			&core.DateField{Name: "ready_at"},
			&core.DateField{Name: "loaded_at"},
			&core.DateField{Name: "completed_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_matches_slug", true, "slug", "")
		collection.AddIndex("idx_matches_status", false, "status", "")
		collection.AddIndex("idx_matches_server_status", false, "server, status", "")
		collection.AddIndex("idx_matches_round", false, "round, match_number", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("matches")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
