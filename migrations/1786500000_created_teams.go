package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("teams")

		collection.Fields.Add(
			&core.TextField{Name: "slug", Required: true, Pattern: `^[a-z0-9_]+$`},
			&core.TextField{Name: "name", Required: true},
			&core.TextField{Name: "tag", Max: 4},
			&core.TextField{Name: "discord_role_id"},
			&core.JSONField{Name: "players"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_teams_slug", true, "slug", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("teams")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
