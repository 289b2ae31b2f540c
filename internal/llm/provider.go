// Package llm requests structured output from hosted language models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Errors returned (wrapped) by providers. None of them is retried.
var (
	ErrTruncated = errors.New("model output truncated by length limit")
	ErrRefused   = errors.New("model refused to answer")
	ErrMalformed = errors.New("model output does not match schema")
)

// Role of a prompt message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one prompt message.
type Message struct {
	Role    Role
	Content string
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Provider asks a model for output conforming to schema and decodes it into out.
type Provider interface {
	Request(ctx context.Context, schema Schema, msgs []Message, out any) error
	Name() string
}

// Request is the typed form of Provider.Request. The schema is derived from T.
func Request[T any](ctx context.Context, p Provider, name string, msgs []Message) (T, error) {
	var out T
	schema, err := SchemaFor[T](name)
	if err != nil {
		return out, err
	}
	if err := p.Request(ctx, schema, msgs, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Config selects and configures a provider.
type Config struct {
	Provider  string // "openai" or "anthropic"
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// Option configures a provider.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New builds the provider named by cfg.Provider.
func New(cfg Config, opts ...Option) (Provider, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key for %s provider", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("missing model name for %s provider", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 16384
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAI(cfg, o.logger), nil
	case "anthropic":
		return newAnthropic(cfg, o.logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// decode unmarshals raw model output into out, rejecting trailing garbage.
func decode(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON value", ErrMalformed)
	}
	return nil
}

// FormatJSON renders v as a titled fenced JSON block, the layout every prompt
// uses to hand data to the model.
func FormatJSON(title string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", title, err)
	}
	return fmt.Sprintf("%s:\n```json\n%s\n```\n", title, data), nil
}
