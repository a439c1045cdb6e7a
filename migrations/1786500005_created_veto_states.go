package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("veto_states")

		collection.Fields.Add(
			&core.TextField{Name: "match_slug", Required: true},
			&core.JSONField{Name: "steps"},
			&core.NumberField{Name: "current_step", OnlyInt: true},
			&core.JSONField{Name: "available_maps"},
			&core.JSONField{Name: "picked_maps"},
			&core.BoolField{Name: "complete"},
			&core.DateField{Name: "deadline"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_veto_states_slug", true, "match_slug", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("veto_states")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
