package server

import (
	"bytes"
	"html/template"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{.Body}}
</body>
</html>
`))

type frontMatter struct {
	Title string `yaml:"title"`
}

// handlePreview renders a Markdown page of the generated site as HTML.
// "a/b/" resolves to a/b.md, then a/b/_index.md.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.siteDir == "" {
		s.respondError(w, http.StatusNotImplemented, "site preview not enabled")
		return
	}
	rel := strings.Trim(path.Clean("/"+chi.URLParam(r, "*")), "/")
	file, ok := s.resolvePage(rel)
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, err := os.ReadFile(file)
	if err != nil {
		s.logger.Error("preview read failed", zap.String("file", file), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fm, body := splitFrontMatter(data)
	var buf bytes.Buffer
	if err := s.markdown.Convert(body, &buf); err != nil {
		s.logger.Error("preview convert failed", zap.String("file", file), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if fm.Title == "" {
		fm.Title = rel
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = pageTemplate.Execute(w, struct {
		Title string
		Body  template.HTML
	}{fm.Title, template.HTML(buf.String())})
}

func (s *Server) resolvePage(rel string) (string, bool) {
	var candidates []string
	if rel == "" {
		candidates = []string{"_index.md"}
	} else if strings.HasSuffix(rel, ".md") {
		candidates = []string{rel}
	} else {
		candidates = []string{rel + ".md", filepath.Join(rel, "_index.md")}
	}
	for _, c := range candidates {
		p := filepath.Join(s.siteDir, filepath.FromSlash(c))
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// splitFrontMatter separates a leading "---" YAML block from the Markdown body.
func splitFrontMatter(data []byte) (frontMatter, []byte) {
	var fm frontMatter
	if !bytes.HasPrefix(data, []byte("---\n")) {
		return fm, data
	}
	rest := data[4:]
	end := bytes.Index(rest, []byte("\n---\n"))
	if end < 0 {
		return fm, data
	}
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return frontMatter{}, data
	}
	return fm, rest[end+5:]
}
