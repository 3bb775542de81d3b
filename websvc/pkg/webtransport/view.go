package webtransport

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"github.com/ichigozero/gtdkit/web/websvc"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	loginTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/login.html"))
	homeTemplate  = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/home.html"))
)

type page struct {
	Authenticated bool
	ExpiresAt     time.Time
}

func pageFor(s websvc.AuthState) page {
	if !s.Authenticated() {
		return page{}
	}
	return page{Authenticated: true, ExpiresAt: s.Tokens.ExpiresAt}
}

type loginPage struct {
	page
	Error string
	From  string
}

// homePage is rendered empty until Loaded; a failed fetch never loads.
type homePage struct {
	page
	Loaded bool
	Tasks  []websvc.Task
}

// execute runs t into a buffer first so that a template error never leaves
// a half written page behind.
func execute(t *template.Template, data interface{}) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, err
	}
	return &buf, nil
}
