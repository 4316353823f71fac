package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time) string {
		return t.Format("Jan 2, 2006")
	},
}).Parse(reportTemplateHTML))

// TemplateData holds data for report template rendering
type TemplateData struct {
	ProjectTitle string
	Description  string
	Status       string
	GeneratedAt  time.Time
	Stages       []StageReport
	Comments     []CommentReport
}

// RenderReportHTML renders the delivery report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProjectTitle}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #1f2430; }
    h1 { border-bottom: 2px solid #4338ca; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .stage { margin: 1.5rem 0; }
    .stage-head { display: flex; justify-content: space-between; border-bottom: 1px solid #ddd; }
    .status { font-size: 0.85em; text-transform: uppercase; color: #4338ca; }
    .note { background: #f5f5f5; padding: 0.75rem; border-left: 3px solid #4338ca; margin: 0.5rem 0; }
    table { width: 100%; border-collapse: collapse; margin: 0.5rem 0; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #eee; font-size: 0.9em; }
    .comment { background: #f5f5f5; padding: 0.75rem; margin: 0.75rem 0; border-left: 3px solid #999; }
    .comment .who { font-size: 0.85em; color: #666; }
  </style>
</head>
<body>
  <h1>{{.ProjectTitle}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">Status: {{.Status}} | Generated {{formatDate .GeneratedAt}}</div>

  {{range .Stages}}
  <div class="stage">
    <div class="stage-head">
      <h2>{{.Position}}. {{.Title}}</h2>
      <span class="status">{{.Status}}</span>
    </div>
    {{if .CompletionNote}}<div class="note">{{.CompletionNote}}</div>{{end}}
    {{if .Components}}
    <table>
      <tr><th>Deliverable</th><th>Type</th><th>Status</th></tr>
      {{range .Components}}
      <tr><td>{{.Label}}</td><td>{{lower .Type}}</td><td>{{lower .Status}}</td></tr>
      {{end}}
    </table>
    {{end}}
  </div>
  {{end}}

  {{if .Comments}}
  <h2>Discussion</h2>
  {{range .Comments}}
  <div class="comment">
    <div class="who">{{.Author}} &middot; {{formatDate .CreatedAt}}</div>
    <div>{{.Body}}</div>
  </div>
  {{end}}
  {{end}}
</body>
</html>`
