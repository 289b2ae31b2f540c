package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/chatdigest/internal/limiter"
	"github.com/hyperjump/chatdigest/internal/llm"
	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/prompts"
	"github.com/hyperjump/chatdigest/internal/storage"
)

// Pipeline runs the model-backed stages of one chat.
type Pipeline struct {
	provider llm.Provider
	store    *storage.ChatStore
	chat     models.Chat
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for per-period progress.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New returns the pipeline for chat backed by store.
func New(provider llm.Provider, store *storage.ChatStore, chat models.Chat, opts ...Option) *Pipeline {
	p := &Pipeline{provider: provider, store: store, chat: chat}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger != nil {
		p.logger = p.logger.With(zap.String("chat", chat.Slug))
	}
	return p
}

// Derive runs every enabled stage in dependency order, sharing lim. It stops at the
// first failing stage.
func (p *Pipeline) Derive(ctx context.Context, lim *limiter.WorkLimiter) ([]Result, error) {
	var results []Result
	run := func(r Result, err error) error {
		results = append(results, r)
		return err
	}
	if err := run(p.FactsStage().Run(ctx, lim)); err != nil {
		return results, err
	}
	if err := run(p.QuestionsStage().Run(ctx, lim)); err != nil {
		return results, err
	}
	if p.chat.Cases {
		if err := run(p.CasesStage().Run(ctx, lim)); err != nil {
			return results, err
		}
	}
	if p.faqEnabled() {
		if err := run(p.CategorizeStage().Run(ctx, lim)); err != nil {
			return results, err
		}
		if err := run(p.NormalizeFAQ(ctx, lim)); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (p *Pipeline) faqEnabled() bool {
	return p.chat.FAQ.Enabled && len(p.chat.FAQ.Categories) > 0
}

// FactsStage extracts facts from cached messages.
func (p *Pipeline) FactsStage() *Stage[models.Message, []models.Summary] {
	return &Stage[models.Message, []models.Summary]{
		Name:   storage.StageFacts,
		Source: p.store.Cache,
		Target: p.store.Facts,
		Logger: p.logger,
		Derive: func(ctx context.Context, per period.Period, msgs []models.Message) ([]models.Summary, error) {
			resp, err := extract[models.FactsResponse](ctx, p, "facts", prompts.ExtractFacts, per, msgs)
			return resp.Facts, err
		},
	}
}

// QuestionsStage extracts questions and their answers from cached messages.
func (p *Pipeline) QuestionsStage() *Stage[models.Message, []models.Question] {
	return &Stage[models.Message, []models.Question]{
		Name:   storage.StageQuestions,
		Source: p.store.Cache,
		Target: p.store.Questions,
		Logger: p.logger,
		Derive: func(ctx context.Context, per period.Period, msgs []models.Message) ([]models.Question, error) {
			resp, err := extract[models.QuestionsResponse](ctx, p, "questions", prompts.ExtractQuestions, per, msgs)
			return resp.Questions, err
		},
	}
}

// CasesStage extracts reported application outcomes from cached messages.
func (p *Pipeline) CasesStage() *Stage[models.Message, []models.Case] {
	return &Stage[models.Message, []models.Case]{
		Name:   storage.StageCases,
		Source: p.store.Cache,
		Target: p.store.Cases,
		Logger: p.logger,
		Derive: func(ctx context.Context, per period.Period, msgs []models.Message) ([]models.Case, error) {
			resp, err := extract[models.CasesResponse](ctx, p, "cases", prompts.ExtractCases, per, msgs)
			return resp.Cases, err
		},
	}
}

func extract[R any](ctx context.Context, p *Pipeline, schema, prompt string, per period.Period, msgs []models.Message) (R, error) {
	var zero R
	data, err := llm.FormatJSON("Messages", models.MessagesRequest{Month: per.String(), Messages: msgs})
	if err != nil {
		return zero, err
	}
	instructions, err := prompts.Render(prompt, nil)
	if err != nil {
		return zero, err
	}
	return llm.Request[R](ctx, p.provider, schema, []llm.Message{
		llm.System(p.systemPrompt()),
		llm.User(data),
		llm.User(instructions),
	})
}

func (p *Pipeline) systemPrompt() string {
	s := fmt.Sprintf("You maintain a knowledge base built from the chat %q.", p.chat.Title)
	if p.chat.Description != "" {
		s += " " + p.chat.Description
	}
	return s
}

// CategorizeStage assigns the answered questions of each period to FAQ categories.
// Periods without answered questions are stored empty without asking the model.
func (p *Pipeline) CategorizeStage() *Stage[models.Question, []models.CategorizedQuestion] {
	return &Stage[models.Question, []models.CategorizedQuestion]{
		Name:   storage.StageCategorized,
		Source: p.store.Questions,
		Target: p.store.Categorized,
		Logger: p.logger,
		Derive: p.categorize,
		Local: func(qs []models.Question) ([]models.CategorizedQuestion, bool) {
			if len(answered(qs)) == 0 {
				return []models.CategorizedQuestion{}, true
			}
			return nil, false
		},
	}
}

// answered returns the distinct answered questions, sorted.
func answered(qs []models.Question) []string {
	var questions []string
	for _, q := range qs {
		if len(q.Answers) > 0 {
			questions = append(questions, q.Question)
		}
	}
	return storage.SourceSet(questions)
}

func (p *Pipeline) categorize(ctx context.Context, _ period.Period, qs []models.Question) ([]models.CategorizedQuestion, error) {
	questions := answered(qs)

	categories := p.chat.FAQ.Categories
	qData, err := llm.FormatJSON("Questions", questions)
	if err != nil {
		return nil, err
	}
	cData, err := llm.FormatJSON("Categories", categories)
	if err != nil {
		return nil, err
	}
	instructions, err := prompts.Render(prompts.CategorizeQuestions, nil)
	if err != nil {
		return nil, err
	}
	resp, err := llm.Request[models.CategorizationResponse](ctx, p.provider, "categorization", []llm.Message{
		llm.System(p.systemPrompt()),
		llm.User(qData),
		llm.User(cData),
		llm.User(instructions),
	})
	if err != nil {
		return nil, err
	}
	return resp.Expand(questions, categories)
}

// NormalizeFAQ merges the questions of every category whose source set changed.
// Categories are visited in configuration order.
func (p *Pipeline) NormalizeFAQ(ctx context.Context, lim *limiter.WorkLimiter) (Result, error) {
	res := Result{Stage: storage.StageFAQ}
	sources, err := p.store.CategorySources(ctx)
	if err != nil {
		return res, fmt.Errorf("%s: %w", res.Stage, err)
	}
	slugs := make([]string, 0, len(p.chat.FAQ.Categories))
	for _, c := range p.chat.FAQ.Categories {
		slugs = append(slugs, c.Slug)
	}
	todo, err := p.store.FAQ.UnprocessedKeys(ctx, sources, slugs)
	if err != nil {
		return res, fmt.Errorf("%s: %w", res.Stage, err)
	}
	res.Stale = len(todo)

	instructions, err := prompts.Render(prompts.NormalizeFAQ, nil)
	if err != nil {
		return res, err
	}
	for _, slug := range todo {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !lim.CanProcess() {
			res.Exhausted = true
			if p.logger != nil {
				p.logger.Info("work limit reached", zap.String("stage", res.Stage), zap.Stringer("limiter", lim))
			}
			break
		}
		questions := sources[slug]
		data, err := llm.FormatJSON("Questions", questions)
		if err != nil {
			return res, err
		}
		resp, err := llm.Request[models.NormalizationResponse](ctx, p.provider, "normalization", []llm.Message{
			llm.System(p.systemPrompt()),
			llm.User(data),
			llm.User(instructions),
		})
		if err != nil {
			return res, fmt.Errorf("%s: category %s: %w", res.Stage, slug, err)
		}
		if err := p.store.FAQ.Put(ctx, slug, storage.SourceFingerprint(questions), resp.Questions); err != nil {
			return res, fmt.Errorf("%s: failed to store %s: %w", res.Stage, slug, err)
		}
		lim.Increment()
		res.Processed++
		if p.logger != nil {
			p.logger.Info("category normalized",
				zap.String("stage", res.Stage),
				zap.String("category", slug),
				zap.Int("questions", len(resp.Questions)),
				zap.Stringer("limiter", lim))
		}
	}
	return res, nil
}
