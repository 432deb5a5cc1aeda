package handoff

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lowkaihon/handoff-engine/completion"
)

const (
	extractMaxTokens = 2400
	composeMaxTokens = 1600
	maxRetries       = 3
	retryBaseDelay   = 1 * time.Second
)

// retryablePattern matches provider error text the driver treats as
// transient, per spec.md §4.8, when the completion layer doesn't already
// classify it as such.
var retryablePattern = regexp.MustCompile(`(?i)rate.?limit|overloaded|service.?unavailable|upstream.?connect|connection.?refused`)

// Driver is the two-pass LLM pipeline: extract, then compose from the
// extractor's output. Both passes go through the same retrying call.
type Driver struct {
	completer completion.Completer
}

// NewDriver wraps a completion capability as a handoff LLM driver.
func NewDriver(completer completion.Completer) *Driver {
	return &Driver{completer: completer}
}

// signalAdapter lets *CancelSignal satisfy completion.Signal without either
// package importing the other's concrete type.
type signalAdapter struct{ s *CancelSignal }

func (a signalAdapter) Aborted() bool          { return a.s.Aborted() }
func (a signalAdapter) Context() context.Context { return a.s.Context() }

// Extract runs LLM pass 1: turns the extractor input into a facts bundle.
func (d *Driver) Extract(ctx context.Context, model, apiKey, input string, signal *CancelSignal) (string, error) {
	return d.call(ctx, "extract", model, ExtractorSystemPrompt, input, extractMaxTokens, apiKey, signal)
}

// Compose runs LLM pass 2: turns the composer input into the final prompt.
func (d *Driver) Compose(ctx context.Context, model, apiKey, input string, signal *CancelSignal) (string, error) {
	return d.call(ctx, "compose", model, ComposerSystemPrompt, input, composeMaxTokens, apiKey, signal)
}

// call invokes the completion capability with transport-level retry: up to
// maxRetries attempts, exponential backoff 1s*2^attempt, honoring signal
// between sleeps. A cancelled/aborted result is never retried.
func (d *Driver) call(ctx context.Context, pass, model, systemPrompt, userContent string, maxTokens int, apiKey string, signal *CancelSignal) (string, error) {
	opts := completion.Options{APIKey: apiKey, Signal: signalAdapter{signal}, MaxTokens: maxTokens}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			retryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("handoff.pass", pass)))
			if err := sleepOrCancel(retryBaseDelay*time.Duration(math.Pow(2, float64(attempt-1))), signal); err != nil {
				return "", err
			}
		}

		if signal.Aborted() {
			return "", ErrCancelled
		}

		msg, err := d.completer.Complete(ctx, model, systemPrompt, userContent, opts)
		if err != nil {
			if !isRetryable(err) || attempt == maxRetries {
				return "", fmt.Errorf("completion call: %w", err)
			}
			lastErr = err
			continue
		}

		if msg.StopReason == completion.StopReasonAborted {
			return "", ErrCancelled
		}
		return msg.Text, nil
	}

	return "", fmt.Errorf("completion call: exhausted retries: %w", lastErr)
}

// sleepOrCancel waits for d, returning ErrCancelled early if signal fires
// first (spec.md §5's sleep(ms, signal)).
func sleepOrCancel(d time.Duration, signal *CancelSignal) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-signal.Done():
		return ErrCancelled
	}
}

func isRetryable(err error) bool {
	return retryablePattern.MatchString(strings.ToLower(err.Error()))
}
