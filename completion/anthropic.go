package completion

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicCompleter implements Completer on top of the official Anthropic
// Messages API, grounded on the same New/NewStreaming adapter shape used
// elsewhere in the ecosystem for wrapping sdk.MessageService.
type AnthropicCompleter struct {
	msg MessagesClient
}

// MessagesClient captures the subset of *sdk.MessageService this completer
// calls, so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// NewAnthropicCompleter builds a completer from an API key.
func NewAnthropicCompleter(apiKey string) *AnthropicCompleter {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicCompleter{msg: &client.Messages}
}

// Complete issues a single non-streaming Messages.New call. Cancellation is
// honored both before the call (opts.Signal.Aborted()) and during it (the
// request context is derived from opts.Signal.Context()).
func (c *AnthropicCompleter) Complete(ctx context.Context, model, systemPrompt, userContent string, opts Options) (AssistantMessage, error) {
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

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(userContent))},
	}

	msg, err := c.msg.New(callCtx, params)
	if err != nil {
		if opts.Signal != nil && opts.Signal.Aborted() {
			return AssistantMessage{StopReason: StopReasonAborted}, nil
		}
		if errors.Is(callCtx.Err(), context.Canceled) {
			return AssistantMessage{StopReason: StopReasonAborted}, nil
		}
		return AssistantMessage{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return AssistantMessage{Text: text, StopReason: translateAnthropicStop(msg.StopReason)}, nil
}

func translateAnthropicStop(reason sdk.StopReason) StopReason {
	switch reason {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return StopReasonStop
	case sdk.StopReasonMaxTokens:
		return StopReasonLength
	case sdk.StopReasonToolUse:
		return StopReasonToolUse
	default:
		return StopReasonStop
	}
}
