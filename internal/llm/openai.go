package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

// OpenAIProvider requests structured output through the chat completions API with
// a strict JSON schema response format.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

func newOpenAI(cfg Config, logger *zap.Logger) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Request sends msgs and decodes the JSON answer into out.
func (p *OpenAIProvider) Request(ctx context.Context, schema Schema, msgs []Message, out any) error {
	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(p.model),
		MaxCompletionTokens: openai.Int(int64(p.maxTokens)),
		Temperature:         openai.Float(0),
		Messages:            toOpenAIMessages(msgs),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schema.Name,
					Schema: schema.JSON,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai request %s: %w", schema.Name, err)
	}
	if p.logger != nil {
		p.logger.Debug("openai request done",
			zap.String("schema", schema.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int64("prompt_tokens", completion.Usage.PromptTokens),
			zap.Int64("completion_tokens", completion.Usage.CompletionTokens))
	}
	if len(completion.Choices) == 0 {
		return fmt.Errorf("%w: no choices returned", ErrMalformed)
	}
	choice := completion.Choices[0]
	if choice.FinishReason == "length" {
		return fmt.Errorf("openai %s: %w", schema.Name, ErrTruncated)
	}
	if choice.Message.Refusal != "" {
		return fmt.Errorf("openai %s: %w: %s", schema.Name, ErrRefused, choice.Message.Refusal)
	}
	return decode([]byte(choice.Message.Content), out)
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			out = append(out, openai.SystemMessage(m.Content))
		} else {
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
