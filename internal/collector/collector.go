// Package collector gathers messages mentioning configured keywords into
// standalone documentation pages.
package collector

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/storage"
	"github.com/hyperjump/chatdigest/pkg/utils"
)

//go:embed auto.md.tmpl
var pageText string

var page = template.Must(template.New("auto").Funcs(template.FuncMap{
	"join":    strings.Join,
	"oneline": func(s string) string { return strings.Join(strings.Fields(s), " ") },
}).Parse(pageText))

// Collector writes keyword pages under a docs directory.
type Collector struct {
	docsDir string
	logger  *zap.Logger
}

// New returns a collector writing into docsDir. logger may be nil.
func New(docsDir string, logger *zap.Logger) *Collector {
	return &Collector{docsDir: docsDir, logger: logger}
}

// PeriodGroup holds the matching messages of one period.
type PeriodGroup struct {
	Period   string
	Messages []models.Message
}

// YearGroup holds the matching periods of one year.
type YearGroup struct {
	Year    int
	Periods []PeriodGroup
}

// Match returns the messages of every cached period whose text contains one of
// keywords, ignoring case, grouped by year. Groups and messages are oldest first
// unless newFirst is set.
func Match(ctx context.Context, cache *storage.MessageCache, keywords []string, newFirst bool) ([]YearGroup, int, error) {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	ps, err := cache.ListPeriods(ctx)
	if err != nil {
		return nil, 0, err
	}
	var years []YearGroup
	total := 0
	for _, p := range ps {
		rec, err := cache.Get(ctx, p)
		if err != nil {
			return nil, 0, err
		}
		var matched []models.Message
		for _, m := range rec.Payload {
			text := strings.ToLower(m.Text)
			if slices.ContainsFunc(lowered, func(k string) bool { return strings.Contains(text, k) }) {
				matched = append(matched, m)
			}
		}
		if len(matched) == 0 {
			continue
		}
		total += len(matched)
		if newFirst {
			slices.Reverse(matched)
		}
		if n := len(years); n == 0 || years[n-1].Year != p.Year {
			years = append(years, YearGroup{Year: p.Year})
		}
		y := &years[len(years)-1]
		y.Periods = append(y.Periods, PeriodGroup{Period: p.String(), Messages: matched})
	}
	if newFirst {
		slices.Reverse(years)
		for i := range years {
			slices.Reverse(years[i].Periods)
		}
	}
	return years, total, nil
}

// Collect rewrites every auto page configured for chat and returns the files
// written, relative to the docs dir.
func (c *Collector) Collect(ctx context.Context, store *storage.ChatStore, chat models.Chat) ([]string, error) {
	if len(chat.Auto) == 0 {
		return nil, nil
	}
	chatID, err := chat.NumericID()
	if err != nil {
		return nil, err
	}
	topicID, err := chat.TopicID()
	if err != nil {
		return nil, err
	}
	var written []string
	for _, auto := range chat.Auto {
		years, total, err := Match(ctx, store.Cache, auto.Keywords, auto.NewFirst)
		if err != nil {
			return written, err
		}
		var b strings.Builder
		if err := page.Execute(&b, map[string]any{
			"Title":       auto.Title,
			"Description": auto.Description,
			"Keywords":    auto.Keywords,
			"Years":       years,
			"ChatID":      chatID,
			"TopicID":     topicID,
		}); err != nil {
			return written, fmt.Errorf("failed to render %s: %w", auto.File, err)
		}
		path := filepath.Join(c.docsDir, filepath.FromSlash(auto.File))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return written, err
		}
		if err := utils.WriteFileAtomic(path, []byte(b.String()), 0644); err != nil {
			return written, err
		}
		if c.logger != nil {
			c.logger.Info("auto page written",
				zap.String("chat", chat.Slug),
				zap.String("file", auto.File),
				zap.Strings("keywords", auto.Keywords),
				zap.Int("messages", total))
		}
		written = append(written, auto.File)
	}
	return written, nil
}

// AutoFiles lists the auto pages of every chat. Documentation updates skip them.
func AutoFiles(chats []models.Chat) []string {
	var files []string
	for _, c := range chats {
		for _, a := range c.Auto {
			files = append(files, a.File)
		}
	}
	return files
}
