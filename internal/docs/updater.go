// Package docs keeps the hand-written knowledge base in sync with the chat by
// applying model-proposed diffs to the documentation files.
package docs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/chatdigest/internal/diffpatch"
	"github.com/hyperjump/chatdigest/internal/limiter"
	"github.com/hyperjump/chatdigest/internal/llm"
	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/period"
	"github.com/hyperjump/chatdigest/internal/pipeline"
	"github.com/hyperjump/chatdigest/internal/prompts"
	"github.com/hyperjump/chatdigest/internal/storage"
)

// Updater edits the documentation files of one chat.
type Updater struct {
	provider  llm.Provider
	store     *storage.ChatStore
	chat      models.Chat
	docsDir   string
	autoFiles map[string]bool
	extra     string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets a logger for applied diffs.
func WithLogger(l *zap.Logger) Option {
	return func(u *Updater) { u.logger = l }
}

// WithExtraPrompt appends instructions to every update and reorganize request.
func WithExtraPrompt(s string) Option {
	return func(u *Updater) { u.extra = s }
}

// WithAutoFiles excludes keyword-collected files, given relative to the docs dir.
func WithAutoFiles(files []string) Option {
	return func(u *Updater) {
		for _, f := range files {
			u.autoFiles[filepath.ToSlash(filepath.Clean(f))] = true
		}
	}
}

// WithClock overrides the current time shown to the model.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) { u.now = now }
}

// NewUpdater returns an updater for the files of chat under docsDir.
func NewUpdater(provider llm.Provider, store *storage.ChatStore, chat models.Chat, docsDir string, opts ...Option) *Updater {
	u := &Updater{
		provider:  provider,
		store:     store,
		chat:      chat,
		docsDir:   docsDir,
		autoFiles: make(map[string]bool),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// LoadDocs reads the chat's documentation files keyed by path relative to the docs
// dir. Patterns containing * or ? are globbed and must match at least one file;
// plain paths must exist. Auto-collected files are left out.
func (u *Updater) LoadDocs() (map[string]string, error) {
	if len(u.chat.Files) == 0 {
		return nil, fmt.Errorf("chat %q has no files configured", u.chat.Title)
	}
	docs := make(map[string]string)
	for _, pattern := range u.chat.Files {
		var rels []string
		if strings.ContainsAny(pattern, "*?") {
			matches, err := filepath.Glob(filepath.Join(u.docsDir, pattern))
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no files found for pattern: %s", pattern)
			}
			for _, m := range matches {
				rel, err := filepath.Rel(u.docsDir, m)
				if err != nil {
					return nil, err
				}
				rels = append(rels, filepath.ToSlash(rel))
			}
		} else {
			rels = []string{filepath.ToSlash(filepath.Clean(pattern))}
		}
		for _, rel := range rels {
			if u.autoFiles[rel] {
				continue
			}
			data, err := os.ReadFile(filepath.Join(u.docsDir, filepath.FromSlash(rel)))
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file not found: %s", rel)
				}
				return nil, fmt.Errorf("failed to read %s: %w", rel, err)
			}
			docs[rel] = string(data)
		}
	}
	return docs, nil
}

// Stage returns the documentation update stage: every cache period whose messages
// changed is shown to the model together with the current files, and the returned
// diffs are applied. The stored payload is the per-file patch report.
func (u *Updater) Stage() *pipeline.Stage[models.Message, []models.AppliedDiff] {
	return &pipeline.Stage[models.Message, []models.AppliedDiff]{
		Name:   storage.StageDocs,
		Source: u.store.Cache,
		Target: u.store.Docs,
		Derive: u.updatePeriod,
		Logger: u.logger,
	}
}

// Update runs the documentation update stage.
func (u *Updater) Update(ctx context.Context, lim *limiter.WorkLimiter) (pipeline.Result, error) {
	return u.Stage().Run(ctx, lim)
}

func (u *Updater) updatePeriod(ctx context.Context, p period.Period, msgs []models.Message) ([]models.AppliedDiff, error) {
	docs, err := u.LoadDocs()
	if err != nil {
		return nil, err
	}
	kb, err := llm.FormatJSON("Knowledge base", docs)
	if err != nil {
		return nil, err
	}
	news, err := llm.FormatJSON("New messages", models.MessagesRequest{Month: p.String(), Messages: msgs})
	if err != nil {
		return nil, err
	}
	instructions, err := prompts.Render(prompts.UpdateDocs, struct {
		Month string
		Chat  models.Chat
		Today string
		Extra string
	}{p.String(), u.chat, u.now().UTC().Format(time.DateOnly), u.extra})
	if err != nil {
		return nil, err
	}
	update, err := llm.Request[models.DocumentationUpdate](ctx, u.provider, "documentation_update", []llm.Message{
		llm.System("Your task is to maintain a knowledge base based on new messages from the chat."),
		llm.User(kb),
		llm.User(news),
		llm.User(instructions),
	})
	if err != nil {
		return nil, err
	}
	return u.apply(docs, update.Diffs)
}

// Reorganize asks the model to restructure the current files and applies the result.
func (u *Updater) Reorganize(ctx context.Context) ([]models.AppliedDiff, error) {
	docs, err := u.LoadDocs()
	if err != nil {
		return nil, err
	}
	kb, err := llm.FormatJSON("Knowledge base", docs)
	if err != nil {
		return nil, err
	}
	instructions, err := prompts.Render(prompts.ReorganizeDocs, struct{ Extra string }{u.extra})
	if err != nil {
		return nil, err
	}
	update, err := llm.Request[models.DocumentationUpdate](ctx, u.provider, "documentation_update", []llm.Message{
		llm.System("Your task is to keep the knowledge base well organized."),
		llm.User(kb),
		llm.User(instructions),
	})
	if err != nil {
		return nil, err
	}
	return u.apply(docs, update.Diffs)
}

// apply patches every diff whose path is one of the loaded files. Other paths are
// logged and ignored.
func (u *Updater) apply(docs map[string]string, diffs []models.FileDiff) ([]models.AppliedDiff, error) {
	out := make([]models.AppliedDiff, 0, len(diffs))
	for _, d := range diffs {
		rel := filepath.ToSlash(filepath.Clean(d.Path))
		if _, ok := docs[rel]; !ok {
			if u.logger != nil {
				u.logger.Warn("diff for unknown file ignored", zap.String("path", d.Path))
			}
			continue
		}
		rep, err := diffpatch.ApplyFile(filepath.Join(u.docsDir, filepath.FromSlash(rel)), d.Diff)
		if err != nil {
			return out, err
		}
		if u.logger != nil {
			u.logger.Info("diff applied", zap.String("path", rel), zap.Stringer("report", rep))
		}
		out = append(out, models.AppliedDiff{Path: rel, Hunks: rep.Hunks, Applied: rep.Applied, NoOp: rep.NoOp})
	}
	slices.SortStableFunc(out, func(a, b models.AppliedDiff) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}
