package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/pocketbase/pocketbase/core"

	"github.com/sivert-io/matchzy-auto-tournament/internal/demos"
	"github.com/sivert-io/matchzy-auto-tournament/internal/store"
)

// downloadDemo streams a recorded demo file. Without a map number the
// first demo of the series is served.
func (h *Handlers) downloadDemo(re *core.RequestEvent) error {
	slug := re.Request.PathValue("slug")

	mapNumber := -1
	if raw := re.Request.PathValue("mapNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fail(re, fmt.Errorf("%w: invalid map number %q", store.ErrValidation, raw))
		}
		mapNumber = n
	}

	path, err := demos.Resolve(re.App, h.cfg.DemoDir, slug, mapNumber)
	if err != nil {
		return fail(re, err)
	}

	re.Response.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename=%q`, filepath.Base(path)))
	http.ServeFile(re.Response, re.Request, path)
	return nil
}
