package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/plate.html
var templateFS embed.FS

var plateTemplate = template.Must(template.New("plate.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"deref": func(t *time.Time) time.Time {
		if t == nil {
			return time.Time{}
		}
		return *t
	},
	"inc": func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/plate.html"))

// RenderPlateHTML renders the plate template with provided data
func RenderPlateHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := plateTemplate.Execute(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}
