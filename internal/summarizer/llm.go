package summarizer

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
)

// LLMClient produces one short completion from a system prompt and a
// user message. Implementations must respect ctx deadlines.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const maxSummaryTokens = 300

// NewLLMClient selects a client by inspecting the base URL: anything
// mentioning anthropic (or no URL at all) speaks the Anthropic message
// shape, everything else the OpenAI-compatible chat shape. Returns nil
// when no API key is configured, which callers treat as "always fall
// back".
func NewLLMClient(apiKey, baseURL, model string) LLMClient {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" || strings.Contains(strings.ToLower(baseURL), "anthropic") {
		return newAnthropicClient(apiKey, baseURL, model)
	}
	return newOpenAIClient(apiKey, baseURL, model)
}

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(apiKey, baseURL, model string) *anthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &anthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (c *anthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxSummaryTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

type openaiClient struct {
	client *openai.Client
	model  string
}

func newOpenAIClient(apiKey, baseURL, model string) *openaiClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &openaiClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *openaiClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxSummaryTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
