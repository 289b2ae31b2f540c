package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"go.uber.org/zap"
)

// AnthropicProvider requests structured output by forcing the model to call a
// single tool whose input schema is the output schema.
type AnthropicProvider struct {
	client    anthropicsdk.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

func newAnthropic(cfg Config, logger *zap.Logger) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:    anthropicsdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Request sends msgs and decodes the tool input into out.
func (p *AnthropicProvider) Request(ctx context.Context, schema Schema, msgs []Message, out any) error {
	inputSchema, err := toolInputSchema(schema.JSON)
	if err != nil {
		return fmt.Errorf("anthropic schema %s: %w", schema.Name, err)
	}
	tool := anthropicsdk.ToolParam{
		Name:        schema.Name,
		Description: anthropicsdk.String("Report the result."),
		InputSchema: inputSchema,
	}

	var system []anthropicsdk.TextBlockParam
	var content []anthropicsdk.ContentBlockParamUnion
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, anthropicsdk.TextBlockParam{Text: m.Content})
			continue
		}
		content = append(content, anthropicsdk.NewTextBlock(m.Content))
	}

	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(p.model),
		MaxTokens:   int64(p.maxTokens),
		Temperature: param.NewOpt(0.0),
		Messages: []anthropicsdk.MessageParam{{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: content,
		}},
		Tools: []anthropicsdk.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropicsdk.ToolChoiceUnionParam{
			OfTool: &anthropicsdk.ToolChoiceToolParam{Name: schema.Name},
		},
	}
	if len(system) > 0 {
		params.System = system
	}

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return fmt.Errorf("anthropic request %s: %w", schema.Name, err)
	}
	if p.logger != nil {
		p.logger.Debug("anthropic request done",
			zap.String("schema", schema.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int64("input_tokens", msg.Usage.InputTokens),
			zap.Int64("output_tokens", msg.Usage.OutputTokens))
	}

	switch string(msg.StopReason) {
	case "max_tokens":
		return fmt.Errorf("anthropic %s: %w", schema.Name, ErrTruncated)
	case "refusal":
		return fmt.Errorf("anthropic %s: %w", schema.Name, ErrRefused)
	}
	var text []string
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == schema.Name {
			return decode(block.Input, out)
		}
		if block.Type == "text" {
			text = append(text, block.Text)
		}
	}
	return fmt.Errorf("anthropic %s: %w: no tool call in response: %s", schema.Name, ErrMalformed, strings.Join(text, " "))
}

func toolInputSchema(raw map[string]any) (anthropicsdk.ToolInputSchemaParam, error) {
	var schema anthropicsdk.ToolInputSchemaParam
	data, err := json.Marshal(raw)
	if err != nil {
		return schema, err
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		return schema, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}
