// Package dashboard serves the embedded browser front-end: a connectivity
// banner with a retry control and one card per widget, fed by /api/stream.
package dashboard

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed assets
var assets embed.FS

// Handler returns an HTTP handler that serves the embedded dashboard assets.
func Handler() http.Handler {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		// "assets" is embedded, so this cannot fail.
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
