package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is the default OpenAI generation model.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional, for compatible endpoints
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIProvider generates text through the OpenAI chat API.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), config: cfg}, nil
}

// Generate produces a completion. Timeouts come from the caller's context.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := p.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := p.config.Temperature
	if req.Temperature >= 0 {
		temperature = req.Temperature
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Response{
		Text:     resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: p.Name(),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// Available probes the API.
func (p *OpenAIProvider) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := p.client.ListModels(checkCtx)
	return err == nil
}

// Close is a no-op.
func (p *OpenAIProvider) Close() error { return nil }
