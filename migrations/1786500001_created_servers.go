package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("servers")

		collection.Fields.Add(
			&core.TextField{Name: "slug", Required: true, Pattern: `^[a-z0-9_]+$`},
			&core.TextField{Name: "name", Required: true},
			&core.TextField{Name: "host", Required: true},
			&core.NumberField{Name: "port", OnlyInt: true, Required: true},
			&core.TextField{Name: "rcon_password", Hidden: true},
			&core.BoolField{Name: "enabled"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_servers_slug", true, "slug", "")
		collection.AddIndex("idx_servers_host_port", false, "host, port", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("servers")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
