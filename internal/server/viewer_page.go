package server

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/nutribin/feedrelay/internal/logx"
)

//go:embed viewer.html
var viewerHTML string

var viewerTmpl = template.Must(template.New("viewer").Parse(viewerHTML))

// ViewerHandler serves the embedded viewer page, which connects to wsPath
// and renders relayed frames and classifications.
func ViewerHandler(wsPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := viewerTmpl.Execute(w, struct{ WSPath string }{wsPath}); err != nil {
			logx.Log.Error().Err(err).Msg("render viewer")
		}
	}
}
