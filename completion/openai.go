package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompleter implements Completer on top of the official OpenAI Chat
// Completions API.
type OpenAICompleter struct {
	client ChatClient
}

// ChatClient captures the subset of *openai.Client this completer calls.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// NewOpenAICompleter builds a completer from an API key.
func NewOpenAICompleter(apiKey string) *OpenAICompleter {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAICompleter{client: client.Chat.Completions}
}

// Complete issues a single non-streaming chat completion call.
func (c *OpenAICompleter) Complete(ctx context.Context, model, systemPrompt, userContent string, opts Options) (AssistantMessage, error) {
	if opts.Signal != nil && opts.Signal.Aborted() {
		return AssistantMessage{StopReason: StopReasonAborted}, nil
	}

	callCtx := ctx
	if opts.Signal != nil {
		callCtx = opts.Signal.Context()
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := openai.ChatCompletionNewParams{
		Model:     model,
		MaxTokens: openai.Int(maxTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userContent),
		},
	}

	resp, err := c.client.New(callCtx, params)
	if err != nil {
		if opts.Signal != nil && opts.Signal.Aborted() {
			return AssistantMessage{StopReason: StopReasonAborted}, nil
		}
		if errors.Is(callCtx.Err(), context.Canceled) {
			return AssistantMessage{StopReason: StopReasonAborted}, nil
		}
		return AssistantMessage{}, fmt.Errorf("openai chat completions: %w", err)
	}

	if len(resp.Choices) == 0 {
		return AssistantMessage{}, fmt.Errorf("openai chat completions: no choices in response")
	}
	choice := resp.Choices[0]
	return AssistantMessage{
		Text:       choice.Message.Content,
		StopReason: translateOpenAIStop(choice.FinishReason),
	}, nil
}

func translateOpenAIStop(reason string) StopReason {
	switch reason {
	case "stop":
		return StopReasonStop
	case "length":
		return StopReasonLength
	case "tool_calls":
		return StopReasonToolUse
	default:
		return StopReasonStop
	}
}
