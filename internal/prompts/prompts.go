// Package prompts holds the instructions sent to the model by each stage.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var files embed.FS

// Template names.
const (
	ExtractFacts        = "extract_facts"
	ExtractQuestions    = "extract_questions"
	ExtractCases        = "extract_cases"
	CategorizeQuestions = "categorize_questions"
	NormalizeFAQ        = "normalize_faq"
	UpdateDocs          = "update_docs"
	ReorganizeDocs      = "reorganize_docs"
)

var templates = template.Must(template.New("prompts").ParseFS(files, "templates/*.tmpl"))

// Render executes the named template with data.
func Render(name string, data any) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return b.String(), nil
}
