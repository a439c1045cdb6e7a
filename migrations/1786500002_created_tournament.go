package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("tournament")

		collection.Fields.Add(
			&core.TextField{Name: "name"},
			&core.SelectField{Name: "type", MaxSelect: 1, Values: []string{
				"single_elim", "double_elim", "round_robin", "swiss",
			}},
			&core.SelectField{Name: "format", MaxSelect: 1, Values: []string{
				"bo1", "bo3", "bo5",
			}},
			&core.JSONField{Name: "map_pool"},
			&core.JSONField{Name: "team_ids"},
			&core.SelectField{Name: "status", MaxSelect: 1, Values: []string{
				"setup", "ready", "in_progress", "completed",
			}},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tournament")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
