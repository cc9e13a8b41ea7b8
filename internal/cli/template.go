package cli

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

var templateFuncs = template.FuncMap{
	"ago":   humanize.Time,
	"bytes": humanize.IBytes,
	"clock": func(t time.Time) string { return t.Local().Format(time.DateTime) },
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

const activityTemplate = `{{- range . }}
#{{ .Index }} {{ .Type }} {{ .Store }}/{{ .Path }}
{{- with .DestPath }} -> {{ deref . }}{{ end }}
    {{ clock .Time }} ({{ ago .Time }}) by {{ range $i, $d := .Devices }}{{ if $i }}, {{ end }}{{ $d }}{{ end }}
{{- else }}
No activity yet.
{{- end }}
`

const versionsTemplate = `=== Versions of {{ .Store }} ===
Greatest tick: {{ .Greatest }}
{{ range .Keys }}
{{ .Key }}
    local: {{ .Local }}
    known: {{ .KML }}
{{- else }}
No versioned keys.
{{- end }}
`

const hashTemplate = `Path:   {{ .Store }}/{{ .Path }}
Size:   {{ bytes .Size }}
Hash:   {{ .Hash }}
`

var templates = template.Must(template.New("cli").Funcs(templateFuncs).Parse(""))

func init() {
	template.Must(templates.New("activity").Parse(activityTemplate))
	template.Must(templates.New("versions").Parse(versionsTemplate))
	template.Must(templates.New("hash").Parse(hashTemplate))
}

// render выполняет именованный шаблон
func render(w io.Writer, name string, data any) error {
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	return nil
}
