// Package prompt renders the post-production expert prompt sent to the LLM.
package prompt

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/cookieclicker123/tanooki-copilot/internal/models"
)

//go:embed tv_prompt.tmpl
var tvPromptText string

var tvPrompt = template.Must(template.New("tv_prompt").Parse(tvPromptText))

// ResponseFormat is the JSON shape the model is asked to answer in
var ResponseFormat = map[string]string{"Answer": ""}

type promptData struct {
	Query          string
	ResponseFormat string
	Context        []string
}

func responseStencil() string {
	b, err := json.MarshalIndent(ResponseFormat, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("prompt: marshal response format: %v", err))
	}
	return string(b)
}

func render(data promptData) string {
	var b bytes.Buffer
	if err := tvPrompt.Execute(&b, data); err != nil {
		panic(fmt.Sprintf("prompt: render: %v", err))
	}
	return b.String()
}

// Build interpolates query verbatim into the expert template
func Build(query string) string {
	return render(promptData{Query: query, ResponseFormat: responseStencil()})
}

// BuildWithContext adds the matched agents and resolved entities to the prompt.
// With nothing to add it renders exactly what Build does.
func BuildWithContext(query string, intent *models.IntentResult, entities *models.ExtractedEntities) string {
	return render(promptData{
		Query:          query,
		ResponseFormat: responseStencil(),
		Context:        contextLines(intent, entities),
	})
}

func contextLines(intent *models.IntentResult, entities *models.ExtractedEntities) []string {
	var lines []string
	if intent != nil && len(intent.Agents) > 0 {
		agents := make([]string, len(intent.Agents))
		for i, a := range intent.Agents {
			agents[i] = fmt.Sprintf("%s (%s)", a, a.Description())
		}
		lines = append(lines, "Query categories: "+strings.Join(agents, ", "))
	}
	if entities == nil {
		return lines
	}

	titles := map[string]string{
		models.CategoryContributors: "Contributors",
		models.CategoryLocations:    "Locations",
		models.CategoryClipTypes:    "Clip types",
	}
	for _, category := range models.Categories() {
		ids := entities.Entities[category]
		if len(ids) == 0 {
			continue
		}
		names := entities.Normalized[category]
		values := make([]string, 0, len(ids))
		seen := make(map[string]struct{}, len(ids))
		for i, id := range ids {
			v := id
			if i < len(names) && names[i] != id {
				v = fmt.Sprintf("%s [%s]", names[i], id)
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
		sort.Strings(values)
		lines = append(lines, titles[category]+": "+strings.Join(values, ", "))
	}
	return lines
}
