package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(
	template.New("document.html").
		Funcs(template.FuncMap{
			"lower": strings.ToLower,
			"formatDate": func(t time.Time, layout string) string {
				if t.IsZero() {
					return ""
				}
				return t.Format(layout)
			},
		}).
		ParseFS(templateFS, "templates/document.html"),
)

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	ProjectName string
	SavedAt     time.Time
	ContentHTML template.HTML
	Rows        []TemplateRow
}

// TemplateRow is one line of the annotation table.
type TemplateRow struct {
	ID           int
	SelectedText string
	Tag          string
	Code         string
	Related      string
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
