// Package render builds the Markdown site (Hugo content layout) from the derived
// records of each chat.
package render

import (
	"cmp"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/storage"
	"github.com/hyperjump/chatdigest/pkg/utils"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("site").Funcs(template.FuncMap{
	"blockquote": FormatBlockquote,
	"quote":      strconv.Quote,
}).ParseFS(templateFS, "templates/*.tmpl"))

// MissingError reports answered questions that have no category, which would
// silently drop them from the FAQ.
type MissingError struct {
	Questions []string
}

func (e *MissingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "categorization missing %d questions:", len(e.Questions))
	for i, q := range e.Questions {
		fmt.Fprintf(&b, "\n%d. %s", i+1, q)
	}
	b.WriteString("\n\nrun: chatdigest derive")
	return b.String()
}

// Renderer writes site pages under an output directory.
type Renderer struct {
	outputDir string
	logger    *zap.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLogger logs every written page.
func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// New returns a renderer writing into outputDir.
func New(outputDir string, opts ...Option) *Renderer {
	r := &Renderer{outputDir: outputDir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildChat renders every enabled section of chat.
func (r *Renderer) BuildChat(ctx context.Context, store *storage.ChatStore, chat models.Chat) error {
	var years []int
	if chat.Cases {
		ps, err := store.Cases.ListPeriods(ctx)
		if err != nil {
			return err
		}
		years = yearsDesc(ps)
	}
	latest := 0
	if len(years) > 0 {
		latest = years[0]
	}
	if err := r.save(filepath.Join(chat.Slug, "_index.md"), "section-index.md.tmpl", map[string]any{
		"Chat":       chat,
		"LatestYear": latest,
	}); err != nil {
		return err
	}
	if chat.Cases {
		if err := r.buildCases(ctx, store, chat); err != nil {
			return err
		}
	}
	if chat.FAQ.Enabled {
		if len(chat.FAQ.Categories) > 0 {
			return r.buildCategorizedFAQ(ctx, store, chat)
		}
		return r.buildFAQ(ctx, store, chat)
	}
	return nil
}

func yearsDesc(ps []period.Period) []int {
	var years []int
	for _, p := range ps {
		years = append(years, p.Year)
	}
	slices.Sort(years)
	years = slices.Compact(years)
	slices.Reverse(years)
	return years
}

type caseView struct {
	models.Case
	Links []models.MessageLink
}

type monthView struct {
	Period string
	Cases  []caseView
}

type yearStats struct {
	Year     int
	Approved int
	Rejected int
}

func (r *Renderer) buildCases(ctx context.Context, store *storage.ChatStore, chat models.Chat) error {
	ps, err := store.Cases.ListPeriods(ctx)
	if err != nil {
		return err
	}
	if len(ps) == 0 {
		if r.logger != nil {
			r.logger.Info("no cases", zap.String("chat", chat.Slug))
		}
		return nil
	}
	byYear := make(map[int][]monthView)
	stats := make(map[int]*yearStats)
	for _, p := range ps {
		rec, err := store.Cases.Get(ctx, p)
		if err != nil {
			return err
		}
		st, ok := stats[p.Year]
		if !ok {
			st = &yearStats{Year: p.Year}
			stats[p.Year] = st
		}
		approved, rejected := models.CountOutcomes(rec.Payload)
		st.Approved += approved
		st.Rejected += rejected

		mv := monthView{Period: p.String()}
		for _, c := range rec.Payload {
			mv.Cases = append(mv.Cases, caseView{Case: c, Links: c.Summary.Links(chat)})
		}
		byYear[p.Year] = append(byYear[p.Year], mv)
	}

	var index []yearStats
	for i, year := range yearsDesc(ps) {
		index = append(index, *stats[year])
		if err := r.save(filepath.Join(chat.Slug, "cases", fmt.Sprintf("%d.md", year)), "cases-year.md.tmpl", map[string]any{
			"Year":   year,
			"Weight": i + 1,
			"Months": byYear[year],
		}); err != nil {
			return err
		}
	}
	return r.save(filepath.Join(chat.Slug, "cases", "_index.md"), "cases-index.md.tmpl", map[string]any{"Years": index})
}

type answerView struct {
	Text  string
	Links []models.MessageLink
	first int64
}

type questionView struct {
	Question string
	Answers  []answerView
}

type letterGroup struct {
	Letter    string
	Questions []questionView
}

func (r *Renderer) buildCategorizedFAQ(ctx context.Context, store *storage.ChatStore, chat models.Chat) error {
	missing, err := store.Uncategorized(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &MissingError{Questions: missing}
	}
	if err := r.save(filepath.Join(chat.Slug, "faq", "_index.md"), "faq-index.md.tmpl", map[string]any{
		"Categories": chat.FAQ.Categories,
	}); err != nil {
		return err
	}

	answers, err := collectAnswers(ctx, store, chat)
	if err != nil {
		return err
	}
	categorized, err := store.AllCategorized(ctx)
	if err != nil {
		return err
	}
	byCategory := make(map[string][]string)
	for _, q := range categorized {
		if !q.IsDateSpecific {
			byCategory[q.CategorySlug] = append(byCategory[q.CategorySlug], q.Question)
		}
	}
	for i, cat := range chat.FAQ.Categories {
		questions, ok := byCategory[cat.Slug]
		if !ok {
			continue
		}
		faq := models.CategoryFAQ{CategorySlug: cat.Slug}
		rec, err := store.FAQ.Get(ctx, cat.Slug)
		switch {
		case err == nil:
			faq.Questions = rec.Payload
		case errors.Is(err, storage.ErrNotFound):
		default:
			return err
		}
		if err := r.save(filepath.Join(chat.Slug, "faq", cat.Slug+".md"), "faq-category.md.tmpl", map[string]any{
			"Category": cat,
			"Weight":   i + 1,
			"Groups":   groupByLetter(mergeQuestions(questions, faq, answers)),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) buildFAQ(ctx context.Context, store *storage.ChatStore, chat models.Chat) error {
	answers, err := collectAnswers(ctx, store, chat)
	if err != nil {
		return err
	}
	questions := make([]string, 0, len(answers))
	for q := range answers {
		questions = append(questions, q)
	}
	return r.save(filepath.Join(chat.Slug, "faq", "_index.md"), "faq-category.md.tmpl", map[string]any{
		"Category": nil,
		"Weight":   1,
		"Groups":   groupByLetter(mergeQuestions(questions, models.CategoryFAQ{}, answers)),
	})
}

// collectAnswers maps every answered question to its answers across all periods.
func collectAnswers(ctx context.Context, store *storage.ChatStore, chat models.Chat) (map[string][]answerView, error) {
	answered, err := store.AnsweredQuestions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]answerView)
	for _, pq := range answered {
		for _, q := range pq.Questions {
			for _, a := range q.Answers {
				av := answerView{Text: a.Text, Links: a.Links(chat)}
				if len(a.MessageIDs) > 0 {
					av.first = slices.Min(a.MessageIDs)
				}
				out[q.Question] = append(out[q.Question], av)
			}
		}
	}
	return out, nil
}

// mergeQuestions folds source questions into their normalized wording and merges
// their answers, deduplicated and ordered by first message id.
func mergeQuestions(questions []string, faq models.CategoryFAQ, answers map[string][]answerView) []questionView {
	merged := make(map[string][]answerView)
	for _, q := range storage.SourceSet(questions) {
		as, ok := answers[q]
		if !ok {
			continue
		}
		n := faq.Normalize(q)
		merged[n] = append(merged[n], as...)
	}
	out := make([]questionView, 0, len(merged))
	for q, as := range merged {
		slices.SortStableFunc(as, func(a, b answerView) int {
			return cmp.Or(cmp.Compare(a.first, b.first), strings.Compare(a.Text, b.Text))
		})
		as = slices.CompactFunc(as, func(a, b answerView) bool {
			return a.first == b.first && a.Text == b.Text
		})
		out = append(out, questionView{Question: q, Answers: as})
	}
	slices.SortFunc(out, func(a, b questionView) int { return strings.Compare(a.Question, b.Question) })
	return out
}

func groupByLetter(qs []questionView) []letterGroup {
	var groups []letterGroup
	for _, q := range qs {
		first, _ := utf8.DecodeRuneInString(q.Question)
		letter := string(unicode.ToUpper(first))
		if n := len(groups); n > 0 && groups[n-1].Letter == letter {
			groups[n-1].Questions = append(groups[n-1].Questions, q)
			continue
		}
		groups = append(groups, letterGroup{Letter: letter, Questions: []questionView{q}})
	}
	slices.SortStableFunc(groups, func(a, b letterGroup) int { return strings.Compare(a.Letter, b.Letter) })
	return mergeLetters(groups)
}

// mergeLetters joins groups that share a letter after sorting, which happens when
// lower- and upper-case questions sort apart.
func mergeLetters(groups []letterGroup) []letterGroup {
	var out []letterGroup
	for _, g := range groups {
		if n := len(out); n > 0 && out[n-1].Letter == g.Letter {
			out[n-1].Questions = append(out[n-1].Questions, g.Questions...)
			continue
		}
		out = append(out, g)
	}
	return out
}

func (r *Renderer) save(rel, name string, data any) error {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", rel, err)
	}
	path := filepath.Join(r.outputDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(path, []byte(b.String()), 0644); err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.Info("page written", zap.String("path", path))
	}
	return nil
}

var hashtag = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// FormatBlockquote prepares text for a Markdown blockquote: hashtags are bolded,
// a leading #, + or - on any line is escaped, and line breaks continue the quote.
func FormatBlockquote(text string) string {
	text = hashtag.ReplaceAllString(text, "**$0**")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" && strings.ContainsRune("#+-", rune(l[0])) {
			lines[i] = `\` + l
		}
	}
	return strings.Join(lines, "<br>\n> ")
}
