package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("match_events")

		collection.Fields.Add(
			&core.NumberField{Name: "seq", OnlyInt: true, Required: true},
			&core.TextField{Name: "match_slug"},
			&core.TextField{Name: "kind"},
			&core.TextField{Name: "payload", Max: 100000},
			&core.TextField{Name: "correlation_id"},
			&core.AutodateField{Name: "created", OnCreate: true},
		)

		collection.AddIndex("idx_match_events_seq", true, "seq", "")
		collection.AddIndex("idx_match_events_slug_seq", false, "match_slug, seq", "")
		collection.AddIndex("idx_match_events_kind", false, "kind", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("match_events")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
