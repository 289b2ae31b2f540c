// Package config provides configuration loading and structs for chatdigest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/chatdigest/internal/llm"
	"github.com/hyperjump/chatdigest/internal/models"
)

// Storage backends.
const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	Debug         bool                 `yaml:"debug"`
	Storage       StorageConfig        `yaml:"storage"`
	Model         ModelConfig          `yaml:"model"`
	Telegram      TelegramConfig       `yaml:"telegram"`
	Server        ServerConfig         `yaml:"server"`
	Site          SiteConfig           `yaml:"site"`
	Pipeline      PipelineConfig       `yaml:"pipeline"`
	FAQCategories []models.FAQCategory `yaml:"faq_categories"`
	Chats         []models.Chat        `yaml:"chats"`
}

// StorageConfig selects the record backend and holds paths for it and the search index.
type StorageConfig struct {
	Backend         string `yaml:"backend"`
	Dir             string `yaml:"dir"`
	DatabasePath    string `yaml:"database_path"`
	SearchIndexPath string `yaml:"search_index_path"`
}

// Footprint lists the files and directories holding records and the search index.
func (s StorageConfig) Footprint() []string {
	if s.Backend == BackendSQLite {
		return []string{s.DatabasePath, s.DatabasePath + "-wal", s.SearchIndexPath}
	}
	return []string{s.Dir, s.SearchIndexPath}
}

// ModelConfig selects the language model. The API key is read from the
// environment variable named by APIKeyEnv, never from the file.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// LLM returns the provider config with the key resolved from the environment.
func (m ModelConfig) LLM() (llm.Config, error) {
	key := os.Getenv(m.APIKeyEnv)
	if key == "" {
		return llm.Config{}, fmt.Errorf("environment variable %s is not set", m.APIKeyEnv)
	}
	return llm.Config{
		Provider:  m.Provider,
		Model:     m.Name,
		APIKey:    key,
		BaseURL:   m.BaseURL,
		MaxTokens: m.MaxTokens,
	}, nil
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	TokenEnv string `yaml:"token_env"`
}

// Token reads the bot token from the environment.
func (t TelegramConfig) Token() (string, error) {
	token := os.Getenv(t.TokenEnv)
	if token == "" {
		return "", fmt.Errorf("environment variable %s is not set", t.TokenEnv)
	}
	return token, nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SiteConfig holds the rendered site and hand-written docs locations.
type SiteConfig struct {
	OutputDir string `yaml:"output_dir"`
	DocsDir   string `yaml:"docs_dir"`
}

// PipelineConfig bounds and schedules derivation runs.
type PipelineConfig struct {
	MaxPeriodsPerRun int    `yaml:"max_periods_per_run"`
	Schedule         string `yaml:"schedule"`
	ExtraPrompt      string `yaml:"extra_prompt"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Dir = expandPath(cfg.Storage.Dir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.SearchIndexPath = expandPath(cfg.Storage.SearchIndexPath, configDir)
	cfg.Site.OutputDir = expandPath(cfg.Site.OutputDir, configDir)
	cfg.Site.DocsDir = expandPath(cfg.Site.DocsDir, configDir)

	return &cfg, nil
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendDisk, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	seen := make(map[string]bool, len(c.Chats))
	for _, chat := range c.Chats {
		if err := chat.Validate(); err != nil {
			return err
		}
		if seen[chat.Slug] {
			return fmt.Errorf("duplicate chat slug %q", chat.Slug)
		}
		seen[chat.Slug] = true
		for _, cat := range chat.FAQ.Categories {
			if cat.Slug == "" {
				return fmt.Errorf("chat %q: faq category %q has no slug", chat.Slug, cat.Title)
			}
		}
	}
	return nil
}

// Chat returns the chat with the given slug.
func (c *Config) Chat(slug string) (models.Chat, bool) {
	for _, chat := range c.Chats {
		if chat.Slug == slug {
			return chat, true
		}
	}
	return models.Chat{}, false
}

// SelectChats returns the chats named by slugs, or every chat when slugs is empty.
func (c *Config) SelectChats(slugs []string) ([]models.Chat, error) {
	if len(slugs) == 0 {
		return c.Chats, nil
	}
	out := make([]models.Chat, 0, len(slugs))
	for _, slug := range slugs {
		chat, ok := c.Chat(slug)
		if !ok {
			return nil, fmt.Errorf("unknown chat %q", slug)
		}
		out = append(out, chat)
	}
	return out, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
