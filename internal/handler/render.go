package handler

import (
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer executes the embedded HTML templates for echo's c.Render.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses every embedded template.  It panics on a parse error,
// which can only come from a broken build.
func NewRenderer() *Renderer {
	t := template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))
	return &Renderer{templates: t}
}

// Render implements echo.Renderer.
func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}
