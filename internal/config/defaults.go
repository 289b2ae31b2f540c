package config

import (
	"regexp"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendDisk
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./store"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./store/chatdigest.db"
	}
	if cfg.Storage.SearchIndexPath == "" {
		cfg.Storage.SearchIndexPath = "./store/search.bleve"
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.Name == "" {
		if cfg.Model.Provider == "openai" {
			cfg.Model.Name = "gpt-4.1-2025-04-14"
		} else {
			cfg.Model.Name = "claude-sonnet-4-5"
		}
	}
	if cfg.Model.APIKeyEnv == "" {
		cfg.Model.APIKeyEnv = strings.ToUpper(cfg.Model.Provider) + "_API_KEY"
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 16384
	}
	if cfg.Telegram.TokenEnv == "" {
		cfg.Telegram.TokenEnv = "TELEGRAM_BOT_TOKEN"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Site.OutputDir == "" {
		cfg.Site.OutputDir = "./site/content"
	}
	if cfg.Site.DocsDir == "" {
		cfg.Site.DocsDir = "./docs"
	}
	if cfg.Pipeline.MaxPeriodsPerRun == 0 {
		cfg.Pipeline.MaxPeriodsPerRun = 10
	}
	if cfg.Pipeline.Schedule == "" {
		cfg.Pipeline.Schedule = "0 */6 * * *"
	}
	for i := range cfg.FAQCategories {
		if cfg.FAQCategories[i].Slug == "" {
			cfg.FAQCategories[i].Slug = Slugify(cfg.FAQCategories[i].Title)
		}
	}
	// Chats without their own categories share the global list.
	for i := range cfg.Chats {
		if len(cfg.Chats[i].FAQ.Categories) == 0 {
			cfg.Chats[i].FAQ.Categories = append(cfg.Chats[i].FAQ.Categories, cfg.FAQCategories...)
		}
	}
}

// Slugify lowercases s and joins its letter and digit runs with hyphens.
func Slugify(s string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
