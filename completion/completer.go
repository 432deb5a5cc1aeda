// Package completion is the chat-completion capability boundary the handoff
// engine calls through: two official provider SDKs sit behind one narrow
// interface, so the core never talks HTTP directly (spec.md §1's "out of
// scope: the chat completion transport").
package completion

import "context"

// StopReason mirrors the provider-neutral stop reasons the core switches on.
type StopReason string

const (
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "toolUse"
	StopReasonAborted StopReason = "aborted"
	StopReasonError   StopReason = "error"
)

// AssistantMessage is the result of one completion call: joined text blocks
// plus the stop reason the driver inspects for cancellation/error handling.
type AssistantMessage struct {
	Text         string
	StopReason   StopReason
	ErrorMessage string
}

// Signal is the minimal cancellation surface a Completer needs. It is
// satisfied structurally by *handoff.CancelSignal without either package
// importing the other.
type Signal interface {
	Aborted() bool
	Context() context.Context
}

// Options carries the per-call parameters spec.md §6 groups as
// {apiKey, signal, maxTokens}.
type Options struct {
	APIKey    string
	Signal    Signal
	MaxTokens int
}

// Completer is the capability the handoff driver consumes: complete(model,
// {systemPrompt, messages}, {apiKey, signal, maxTokens}) -> AssistantMessage.
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, userContent string, opts Options) (AssistantMessage, error)
}
