package server

import (
	"html/template"
	"net/http"

	"github.com/mapfold/tileserv/internal/service"
)

// viewerHTML is a minimal built-in map page for inspecting tilesets
// without an external client.
var viewerTmpl = template.Must(template.New("viewer").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>tileserv</title>
<style>
body { font-family: sans-serif; margin: 2em; }
code { background: #f0f0f0; padding: 2px 4px; }
li { margin-bottom: 0.5em; }
</style>
</head>
<body>
<h1>tileserv</h1>
<p>Vector tilesets served from this instance:</p>
<ul>
{{range .}}
<li>
  <strong>{{.Name}}</strong> &mdash;
  <a href="/{{.Name}}.json">TileJSON</a> &mdash;
  <code>/{{.Name}}/{z}/{x}/{y}.pbf</code>
</li>
{{end}}
</ul>
<p><a href="/index.json">index.json</a> &middot; <a href="/metrics">metrics</a></p>
</body>
</html>
`))

func handleViewer(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := viewerTmpl.Execute(w, svc.Tilesets()); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}
