// Package main is the chatdigest CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/chatdigest/internal/cli"
	"github.com/hyperjump/chatdigest/internal/collector"
	"github.com/hyperjump/chatdigest/internal/config"
	"github.com/hyperjump/chatdigest/internal/docs"
	"github.com/hyperjump/chatdigest/internal/export"
	"github.com/hyperjump/chatdigest/internal/limiter"
	"github.com/hyperjump/chatdigest/internal/llm"
	"github.com/hyperjump/chatdigest/internal/models"
	"github.com/hyperjump/chatdigest/internal/pipeline"
	"github.com/hyperjump/chatdigest/internal/render"
	"github.com/hyperjump/chatdigest/internal/schedule"
	"github.com/hyperjump/chatdigest/internal/search"
	"github.com/hyperjump/chatdigest/internal/server"
	"github.com/hyperjump/chatdigest/internal/storage"
	"github.com/hyperjump/chatdigest/internal/telegram"
	"github.com/hyperjump/chatdigest/internal/watcher"
	"github.com/hyperjump/chatdigest/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/chatdigest/config.yaml"

// loadConfig loads config from path. When path is the default and config.yaml
// exists in the current directory, that file is used instead, so running from a
// project dir picks up the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = []command{
	{"fetch", "pull new messages from the Bot API into the cache", runFetch},
	{"derive", "extract facts, questions and cases for stale periods", runDerive},
	{"update-docs", "apply model-proposed edits to the hand-written docs", runUpdateDocs},
	{"reorganize", "ask the model to restructure the docs of one chat", runReorganize},
	{"collect", "write keyword-collected pages", runCollect},
	{"build", "render the site and refresh the search index", runBuild},
	{"export", "write reported cases to an .xlsx workbook", runExport},
	{"search", "search facts, questions and cases", runSearch},
	{"serve", "serve the API and site preview, run the pipeline on a schedule", runServe},
	{"status", "show record counts per chat and stage", runStatus},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	name := os.Args[1]
	switch name {
	case "version", "--version", "-v":
		fmt.Printf("chatdigest version %s\n", version)
		return
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := c.run(ctx, os.Args[2:])
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
	printUsage(os.Stderr)
	os.Exit(1)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: chatdigest <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.usage)
	}
	fmt.Fprintf(w, "  %-12s %s\n  %-12s %s\n", "version", "print the version", "help", "show this help")
	fmt.Fprintf(w, "\nRun 'chatdigest <command> -h' for command flags.\n")
}

// commonFlags are accepted by every command that opens the store.
type commonFlags struct {
	configPath *string
	debug      *bool
	chats      *string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
		chats:      fs.String("chat", "", "comma-separated chat slugs (default: all chats)"),
	}
}

// env is what one command invocation works with.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	backend storage.Backend
	chats   []models.Chat
	out     io.Writer
}

func (f *commonFlags) open(command string) (*env, error) {
	cfg, path, err := loadConfig(*f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	chats, err := cfg.SelectChats(cli.SplitList(*f.chats))
	if err != nil {
		return nil, err
	}
	base, err := utils.NewLogger(cfg.Debug || *f.debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger, _ := utils.WithRun(base, command)
	logger.Debug("config loaded", zap.String("config_path", path), zap.Int("chats", len(chats)))

	backend, err := openBackend(cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, backend: backend, chats: chats, out: os.Stdout}, nil
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	if cfg.Storage.Backend == config.BackendSQLite {
		b, err := storage.NewSQLiteBackend(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := storage.NewDiskBackend(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (e *env) Close() {
	if err := e.backend.Close(); err != nil {
		e.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func (e *env) store(chat models.Chat) *storage.ChatStore {
	return storage.NewChatStore(e.backend, chat.Slug)
}

func (e *env) provider() (llm.Provider, error) {
	lc, err := e.cfg.Model.LLM()
	if err != nil {
		return nil, err
	}
	return llm.New(lc, llm.WithLogger(e.logger))
}

// budget returns a limiter for one invocation; limit <= 0 selects the configured budget.
func (e *env) budget(limit int) *limiter.WorkLimiter {
	if limit <= 0 {
		limit = e.cfg.Pipeline.MaxPeriodsPerRun
	}
	return limiter.New(limit)
}

func (e *env) fetch(ctx context.Context) error {
	token, err := e.cfg.Telegram.Token()
	if err != nil {
		return err
	}
	bot, err := telegram.DefaultBotFactory(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 90 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to connect to Bot API: %w", err)
	}
	touched, err := telegram.NewFetcher(bot, e.backend, e.chats, telegram.WithLogger(e.logger)).Fetch(ctx)
	for _, chat := range e.chats {
		fmt.Fprintf(e.out, "%s: %d periods updated\n", chat.Slug, len(touched[chat.Slug]))
	}
	return err
}

func (e *env) derive(ctx context.Context, provider llm.Provider, lim *limiter.WorkLimiter) error {
	for _, chat := range e.chats {
		p := pipeline.New(provider, e.store(chat), chat, pipeline.WithLogger(e.logger))
		results, err := p.Derive(ctx, lim)
		cli.WriteResults(e.out, chat.Slug, results)
		if err != nil {
			return fmt.Errorf("%s: %w", chat.Slug, err)
		}
	}
	e.logger.Info("derive finished", zap.Stringer("budget", lim))
	return nil
}

func (e *env) updater(provider llm.Provider, chat models.Chat) *docs.Updater {
	return docs.NewUpdater(provider, e.store(chat), chat, e.cfg.Site.DocsDir,
		docs.WithLogger(e.logger),
		docs.WithExtraPrompt(e.cfg.Pipeline.ExtraPrompt),
		docs.WithAutoFiles(collector.AutoFiles(e.cfg.Chats)),
	)
}

func (e *env) updateDocs(ctx context.Context, provider llm.Provider, lim *limiter.WorkLimiter) error {
	for _, chat := range e.chats {
		if len(chat.Files) == 0 {
			continue
		}
		res, err := e.updater(provider, chat).Update(ctx, lim)
		cli.WriteResults(e.out, chat.Slug, []pipeline.Result{res})
		if err != nil {
			return fmt.Errorf("%s: %w", chat.Slug, err)
		}
	}
	return nil
}

func (e *env) collect(ctx context.Context) error {
	c := collector.New(e.cfg.Site.DocsDir, e.logger)
	for _, chat := range e.chats {
		files, err := c.Collect(ctx, e.store(chat), chat)
		if err != nil {
			return fmt.Errorf("%s: %w", chat.Slug, err)
		}
		for _, f := range files {
			fmt.Fprintf(e.out, "%s: wrote %s\n", chat.Slug, f)
		}
	}
	return nil
}

// build renders every chat, then replaces its entries in idx. A chat with
// uncategorized questions is reported and skipped; the error is returned at the end.
func (e *env) build(ctx context.Context, idx *search.Index) error {
	r := render.New(e.cfg.Site.OutputDir, render.WithLogger(e.logger))
	var errs []error
	for _, chat := range e.chats {
		store := e.store(chat)
		if err := r.BuildChat(ctx, store, chat); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", chat.Slug, err))
			continue
		}
		n, err := search.Reindex(ctx, idx, store)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", chat.Slug, err))
			continue
		}
		fmt.Fprintf(e.out, "%s: site built, %d entries indexed\n", chat.Slug, n)
	}
	return errors.Join(errs...)
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)
	e, err := common.open("fetch")
	if err != nil {
		return err
	}
	defer e.Close()
	return e.fetch(ctx)
}

func runDerive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 0, "max model calls for this run (default: pipeline.max_periods_per_run)")
	_ = fs.Parse(args)
	e, err := common.open("derive")
	if err != nil {
		return err
	}
	defer e.Close()
	provider, err := e.provider()
	if err != nil {
		return err
	}
	return e.derive(ctx, provider, e.budget(*limit))
}

func runUpdateDocs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update-docs", flag.ExitOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 0, "max model calls for this run (default: pipeline.max_periods_per_run)")
	_ = fs.Parse(args)
	e, err := common.open("update-docs")
	if err != nil {
		return err
	}
	defer e.Close()
	provider, err := e.provider()
	if err != nil {
		return err
	}
	return e.updateDocs(ctx, provider, e.budget(*limit))
}

func runReorganize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reorganize", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)
	e, err := common.open("reorganize")
	if err != nil {
		return err
	}
	defer e.Close()
	provider, err := e.provider()
	if err != nil {
		return err
	}
	for _, chat := range e.chats {
		if len(chat.Files) == 0 {
			continue
		}
		applied, err := e.updater(provider, chat).Reorganize(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", chat.Slug, err)
		}
		fmt.Fprintf(e.out, "%s:\n", chat.Slug)
		cli.WriteApplied(e.out, applied)
	}
	return nil
}

func runCollect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)
	e, err := common.open("collect")
	if err != nil {
		return err
	}
	defer e.Close()
	return e.collect(ctx)
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)
	e, err := common.open("build")
	if err != nil {
		return err
	}
	defer e.Close()
	idx, err := search.OpenIndex(e.cfg.Storage.SearchIndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()
	return e.build(ctx, idx)
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	common := addCommonFlags(fs)
	output := fs.String("o", "cases.xlsx", "output file")
	_ = fs.Parse(args)
	e, err := common.open("export")
	if err != nil {
		return err
	}
	defer e.Close()
	var chats []export.ChatCases
	for _, chat := range e.chats {
		if chat.Cases {
			chats = append(chats, export.ChatCases{Chat: chat, Store: e.store(chat)})
		}
	}
	var buf bytes.Buffer
	n, err := export.WriteCases(ctx, &buf, chats)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(*output, buf.Bytes(), 0644); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "%d cases written to %s\n", n, *output)
	return nil
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: chatdigest search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  chatdigest search appointment
  chatdigest search -kind question,case -chat visas photo size
  chatdigest search -fuzzy apointment                  # typo-tolerant search
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; when set, search through a running 'chatdigest serve'")
	chat := fs.String("chat", "", "restrict to one chat slug")
	kinds := fs.String("kind", "", "comma-separated kinds: fact, question, case (default: all)")
	limit := fs.Int("limit", 10, "number of results")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(args))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		return errors.New("query is required")
	}
	format, err := parseFormat(*outputFormat)
	if err != nil {
		return err
	}
	query := &models.SearchQuery{
		Query: queryStr,
		Chat:  *chat,
		Kinds: cli.SplitList(*kinds),
		Limit: *limit,
		Fuzzy: *fuzzy,
	}

	var searchFn func(*models.SearchQuery) (*models.SearchResponse, error)
	if *serverURL != "" {
		// The running server holds the index lock.
		searchFn = func(q *models.SearchQuery) (*models.SearchResponse, error) { return searchViaHTTP(*serverURL, q) }
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		idx, err := search.OpenIndex(cfg.Storage.SearchIndexPath)
		if err != nil {
			return err
		}
		defer idx.Close()
		searchFn = func(q *models.SearchQuery) (*models.SearchResponse, error) { return idx.Search(ctx, q) }
	}

	response, err := searchFn(query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	// Retry with fuzzy matching when an exact search finds nothing.
	if !query.Fuzzy && response.Total == 0 {
		query.Fuzzy = true
		if fuzzyResponse, err := searchFn(query); err == nil && fuzzyResponse.Total > 0 {
			response = fuzzyResponse
		}
	}
	return cli.WriteSearchResults(os.Stdout, response, format)
}

func parseFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "text":
		return cli.OutputText, nil
	case "json":
		return cli.OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := parseFormat(*outputFormat)
	if err != nil {
		return err
	}
	e, err := common.open("status")
	if err != nil {
		return err
	}
	defer e.Close()
	status, err := e.status(ctx)
	if err != nil {
		return err
	}
	return cli.WriteStatus(e.out, status, format)
}

// status collects per-chat statistics and the disk footprint of the stores.
func (e *env) status(ctx context.Context) (cli.Status, error) {
	status := cli.Status{Chats: make([]cli.ChatStats, 0, len(e.chats))}
	for _, chat := range e.chats {
		st, err := e.store(chat).Stats(ctx)
		if err != nil {
			return status, fmt.Errorf("%s: %w", chat.Slug, err)
		}
		status.Chats = append(status.Chats, cli.ChatStats{Chat: chat.Slug, Stats: st})
	}
	if n, err := storage.UsageBytes(e.cfg.Storage.Footprint()...); err == nil {
		status.DiskUsageBytes = &n
	} else {
		e.logger.Warn("failed to measure disk usage", zap.Error(err))
	}
	return status, nil
}

// runPipeline is the scheduled job: fetch, derive, collect, update docs, build.
// Fetching is skipped when no bot token is configured.
func (e *env) runPipeline(ctx context.Context, provider llm.Provider, idx *search.Index) error {
	if _, err := e.cfg.Telegram.Token(); err == nil {
		if err := e.fetch(ctx); err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
	} else {
		e.logger.Warn("skipping fetch", zap.Error(err))
	}
	lim := e.budget(0)
	if err := e.derive(ctx, provider, lim); err != nil {
		return fmt.Errorf("derive: %w", err)
	}
	if err := e.collect(ctx); err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	if err := e.updateDocs(ctx, provider, lim); err != nil {
		return fmt.Errorf("update-docs: %w", err)
	}
	return e.build(ctx, idx)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common := addCommonFlags(fs)
	noSchedule := fs.Bool("no-schedule", false, "serve only; do not run the pipeline on pipeline.schedule")
	_ = fs.Parse(args)
	e, err := common.open("serve")
	if err != nil {
		return err
	}
	defer e.Close()
	e.out = io.Discard

	idx, err := search.OpenIndex(e.cfg.Storage.SearchIndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	stores := make([]*storage.ChatStore, 0, len(e.chats))
	for _, chat := range e.chats {
		store := e.store(chat)
		if _, err := search.Reindex(ctx, idx, store); err != nil {
			return fmt.Errorf("%s: %w", chat.Slug, err)
		}
		stores = append(stores, store)
	}

	// Scheduled runs and reindexing triggered by the watcher never overlap.
	var mu sync.Mutex

	if e.cfg.Storage.Backend == config.BackendDisk {
		w := watcher.NewWatcher(e.cfg.Storage.Dir, func(slug string) {
			mu.Lock()
			defer mu.Unlock()
			for _, store := range stores {
				if store.Chat != slug {
					continue
				}
				n, err := search.Reindex(ctx, idx, store)
				if err != nil {
					e.logger.Warn("reindex failed", zap.String("chat", slug), zap.Error(err))
					return
				}
				e.logger.Info("chat reindexed", zap.String("chat", slug), zap.Int("entries", n))
			}
		}, watcher.WithLogger(e.logger))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
	}

	if !*noSchedule {
		provider, err := e.provider()
		if err != nil {
			return err
		}
		sched := schedule.New(&mu, e.logger)
		if err := sched.Add(schedule.Job{
			Name: "pipeline",
			Spec: e.cfg.Pipeline.Schedule,
			Run:  func(ctx context.Context) error { return e.runPipeline(ctx, provider, idx) },
		}); err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
		for name, next := range sched.Next() {
			e.logger.Info("job scheduled", zap.String("job", name), zap.Time("next", next))
		}
	}

	srv := server.NewServer(idx, stores, e.cfg.Site.OutputDir, e.cfg.Storage.Footprint(), &e.cfg.Server, e.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	e.logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
