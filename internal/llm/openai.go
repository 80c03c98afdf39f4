package llm

import (
	"context"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arbor-ai/arbor/pkg/schema"
)

const defaultModel = "gpt-4o-mini"

// OpenAIClient is the OpenAI-compatible Client implementation.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient builds a client from the environment: OPENAI_API_KEY is
// required, OPENAI_MODEL and OPENAI_BASE_URL are optional (the latter for
// OpenAI-compatible local servers).
func NewOpenAIClient(logger *slog.Logger) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "OPENAI_API_KEY environment variable not set")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultModel
		logger.Warn("OPENAI_MODEL not set, using default", "model", defaultModel)
	}

	cfg := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}

	logger.Info("initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, system, prompt string, params Params) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "completion request failed: %s", err.Error()).WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return "", schema.NewError(schema.ErrCodeExecution, "provider returned no choices")
	}
	c.logger.Debug("completion received", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
