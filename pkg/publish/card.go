package publish

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
)

var cardTemplate = template.Must(template.New("card").Funcs(template.FuncMap{
	"lower": strings.ToLower,
}).Parse(`---
license: {{ .Meta.License | lower }}
language:
- en
- ar
tags:
{{- range .Meta.Tags }}
- {{ . }}
{{- end }}
pretty_name: {{ .Meta.Title }}
---

# {{ .Meta.Title }}

{{ .Meta.Description }}

## Dataset Contents

This dataset contains **{{ .Stats.TotalRecords }}** names.
{{ range .Categories }}
- {{ .Name }}: {{ .Count }}
{{- end }}

Every record has the following fields:

- **display_name**: name in Latin script
- **native_script_name**: name in Arabic script, may be empty
- **meaning**: meaning of the name
- **url**: page of the name on the source site
- **category**: male or female

## Files
{{ range .Artifacts }}
- **{{ .Name }}** ({{ .Format }})
{{- end }}
{{ if .Stats.SourceURL }}
## Source

Scraped from [{{ .Stats.SourceURL }}]({{ .Stats.SourceURL }}) on {{ .Generated }}.
{{ end }}
## License

Released under {{ .Meta.License }}.
`))

type categoryCount struct {
	Name  model.Category
	Count int
}

// DatasetCard renders the README that accompanies published artifacts.
func DatasetCard(meta Metadata, stats Stats, artifacts []Artifact) (string, error) {
	meta = meta.withDefaults()

	counts := make([]categoryCount, 0, len(stats.Categories))
	for cat, n := range stats.Categories {
		counts = append(counts, categoryCount{Name: cat, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Name > counts[j].Name })

	generated := stats.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	var buf bytes.Buffer
	err := cardTemplate.Execute(&buf, map[string]any{
		"Meta":       meta,
		"Stats":      stats,
		"Categories": counts,
		"Artifacts":  artifacts,
		"Generated":  generated.UTC().Format("2006-01-02"),
	})
	if err != nil {
		return "", fmt.Errorf("render dataset card: %w", err)
	}
	return buf.String(), nil
}
