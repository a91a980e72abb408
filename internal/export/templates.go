package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"readback/api/internal/content"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(
	template.New("document.html").
		Funcs(template.FuncMap{
			"formatDate": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
		}).
		ParseFS(templateFS, "templates/document.html"),
)

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	Revision    string
	GeneratedAt time.Time
	Items       []TemplateItem
	TextCount   int
	ImageCount  int
	Words       int
}

// TemplateItem is one rendered item: Src is set for images, Text otherwise.
type TemplateItem struct {
	Text string
	Src  template.URL
}

// NewTemplateData prepares list for rendering. Image sources with a scheme
// other than http, https or an inline image are dropped.
func NewTemplateData(title, revision string, list content.List, at time.Time) TemplateData {
	data := TemplateData{
		Title:       title,
		Revision:    revision,
		GeneratedAt: at,
		Items:       make([]TemplateItem, 0, len(list)),
	}
	for _, item := range list {
		if item.IsText() {
			data.TextCount++
			data.Words += len(strings.Fields(item.Value))
			data.Items = append(data.Items, TemplateItem{Text: item.Value})
			continue
		}
		src, ok := safeImageURL(item.Value)
		if !ok {
			continue
		}
		data.ImageCount++
		data.Items = append(data.Items, TemplateItem{Src: src})
	}
	return data
}

func safeImageURL(raw string) (template.URL, bool) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(lower, "data:image/"),
		strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "http://"):
		return template.URL(strings.TrimSpace(raw)), true
	default:
		return "", false
	}
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
