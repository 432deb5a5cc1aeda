package handoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowkaihon/handoff-engine/completion"
)

type fakeCompleter struct {
	calls   int32
	fail    func(call int) error
	text    string
}

func (f *fakeCompleter) Complete(ctx context.Context, model, systemPrompt, userContent string, opts completion.Options) (completion.AssistantMessage, error) {
	call := int(atomic.AddInt32(&f.calls, 1))
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return completion.AssistantMessage{}, err
		}
	}
	return completion.AssistantMessage{Text: f.text, StopReason: completion.StopReasonStop}, nil
}

func TestDriver_ExtractSucceedsFirstTry(t *testing.T) {
	completer := &fakeCompleter{text: "facts bundle"}
	driver := NewDriver(completer)
	signal := NewCancelSignal(context.Background())

	out, err := driver.Extract(context.Background(), "model", "key", "input", signal)
	require.NoError(t, err)
	assert.Equal(t, "facts bundle", out)
	assert.EqualValues(t, 1, completer.calls)
}

func TestDriver_RetriesOnRetryableErrorThenSucceeds(t *testing.T) {
	completer := &fakeCompleter{
		text: "composed",
		fail: func(call int) error {
			if call < 3 {
				return errors.New("rate limit exceeded")
			}
			return nil
		},
	}
	driver := NewDriver(completer)
	signal := NewCancelSignal(context.Background())

	out, err := driver.Compose(context.Background(), "model", "key", "input", signal)
	require.NoError(t, err)
	assert.Equal(t, "composed", out)
	assert.EqualValues(t, 3, completer.calls)
}

func TestDriver_NonRetryableErrorFailsImmediately(t *testing.T) {
	completer := &fakeCompleter{
		fail: func(call int) error { return errors.New("invalid api key") },
	}
	driver := NewDriver(completer)
	signal := NewCancelSignal(context.Background())

	_, err := driver.Extract(context.Background(), "model", "key", "input", signal)
	require.Error(t, err)
	assert.EqualValues(t, 1, completer.calls)
}

func TestDriver_AbortedSignalStopsBeforeCalling(t *testing.T) {
	completer := &fakeCompleter{text: "should not be reached"}
	driver := NewDriver(completer)
	signal := NewCancelSignal(context.Background())
	signal.Abort()

	_, err := driver.Extract(context.Background(), "model", "key", "input", signal)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.EqualValues(t, 0, completer.calls)
}

func TestDriver_AbortedStopReasonTranslatesToCancelled(t *testing.T) {
	completer := &fakeCompleter{}
	completer.fail = func(call int) error { return nil }
	// Override to return an aborted stop reason directly.
	aborting := completerFunc(func(ctx context.Context, model, sp, uc string, opts completion.Options) (completion.AssistantMessage, error) {
		return completion.AssistantMessage{StopReason: completion.StopReasonAborted}, nil
	})
	driver := NewDriver(aborting)
	signal := NewCancelSignal(context.Background())

	_, err := driver.Compose(context.Background(), "model", "key", "input", signal)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

type completerFunc func(ctx context.Context, model, systemPrompt, userContent string, opts completion.Options) (completion.AssistantMessage, error)

func (f completerFunc) Complete(ctx context.Context, model, systemPrompt, userContent string, opts completion.Options) (completion.AssistantMessage, error) {
	return f(ctx, model, systemPrompt, userContent, opts)
}
