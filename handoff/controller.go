package handoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lowkaihon/handoff-engine/session"
)

// SessionManager is the narrow session-store surface the controller
// consumes (spec.md §6): read the current branch, append an audit entry,
// and identify the session for parent linkage.
type SessionManager interface {
	GetBranch() ([]session.Entry, error)
	AppendCustomEntry(customType string, data any) error
	GetSessionFile() string
}

// SessionCreator creates a child session without starting a conversation.
type SessionCreator interface {
	NewSession(parentSessionFile string) (cancelled bool, err error)
}

// ModelRegistry resolves an API key for a model identifier.
type ModelRegistry interface {
	GetAPIKey(model string) (string, bool)
}

// UI is the terminal interaction surface the controller drives: editor
// review, seeding the new session's input, and notifications.
type UI interface {
	Editor(title, initialText string) (text string, ok bool)
	SetEditorText(text string)
	Notify(message string, level string)
}

// Controller orchestrates C3...C8 end to end (spec.md §4.9).
type Controller struct {
	driver *Driver
	budget Budget
}

// NewController builds a controller over a driver and budget.
func NewController(driver *Driver, budget Budget) *Controller {
	return &Controller{driver: driver, budget: budget}
}

// Handoff runs the full algorithm. Precondition failures and cancellation
// are reported via ui.Notify and return nil, not error: only genuinely
// unexpected failures (session store errors) are returned to the caller.
func (c *Controller) Handoff(ctx context.Context, goal, model string, sm SessionManager, ui UI, registry ModelRegistry, creator SessionCreator, signal *CancelSignal) error {
	ctx, rootSpan := tracer.Start(ctx, "handoff.build",
		trace.WithAttributes(attribute.String("handoff.model", model)))
	defer rootSpan.End()

	goal = strings.TrimSpace(goal)
	if goal == "" {
		ui.Notify("Usage: /handoff <goal>", "error")
		return nil
	}
	rootSpan.SetAttributes(attribute.Int("handoff.goal.length", len(goal)))

	apiKey, ok := registry.GetAPIKey(model)
	if !ok {
		ui.Notify(fmt.Sprintf("No API key configured for model %s", model), "error")
		return nil
	}

	// Step 1: fetch branch.
	_, branchSpan := tracer.Start(ctx, "handoff.branch")
	entries, err := sm.GetBranch()
	branchSpan.End()
	if err != nil {
		rootSpan.RecordError(err)
		rootSpan.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("get branch: %w", err)
	}
	if len(entries) == 0 {
		ui.Notify(capitalize(ErrNoEntries.Error()), "error")
		return nil
	}

	// Step 2: build index.
	_, indexSpan := tracer.Start(ctx, "handoff.index")
	idx := BuildBranchIndex(entries, c.budget)
	indexSpan.SetAttributes(attribute.Int("handoff.turns", len(idx.Turns)))
	indexSpan.End()
	if len(idx.Turns) == 0 {
		ui.Notify(capitalize(ErrNoTurns.Error()), "error")
		return nil
	}

	// Step 3: score, select anchors, aggregate operational/file context.
	_, scoreSpan := tracer.Start(ctx, "handoff.score")
	ScoreTurns(idx.Turns, goal)
	scoreSpan.End()

	_, selectSpan := tracer.Start(ctx, "handoff.select")
	anchors := SelectAnchors(idx.Turns, c.budget)
	selectSpan.SetAttributes(attribute.Int("handoff.anchors.selected", len(anchors)))
	selectSpan.End()
	anchorsSelectedCounter.Add(ctx, int64(len(anchors)))

	_, aggregateSpan := tracer.Start(ctx, "handoff.aggregate")
	opItems := CollectOperationalItems(idx, c.budget)
	modifiedFiles, readFiles := ComputeFileLists(idx.FileOps, c.budget)
	aggregateSpan.SetAttributes(
		attribute.Int("handoff.operational_items", len(opItems)),
		attribute.Int("handoff.files.modified", len(modifiedFiles)),
		attribute.Int("handoff.files.read", len(readFiles)),
	)
	aggregateSpan.End()

	// Step 4: extractor pass.
	_, assembleExtractSpan := tracer.Start(ctx, "handoff.assemble_extract")
	extractorInput := BuildExtractorInput(goal, idx, anchors, opItems, modifiedFiles, readFiles, c.budget)
	assembleExtractSpan.End()
	tokensEstimatedCounter.Add(ctx, int64(estimateTokens(extractorInput)), metric.WithAttributes(attribute.String("handoff.pass", "extract")))

	extractCtx, extractSpan := tracer.Start(ctx, "handoff.extract")
	factsBundle, err := c.driver.Extract(extractCtx, model, apiKey, extractorInput, signal)
	if err != nil {
		extractSpan.RecordError(err)
		extractSpan.SetStatus(codes.Error, err.Error())
	}
	extractSpan.End()
	if err != nil {
		return c.reportPassFailure(ui, err)
	}

	// Step 5: composer pass.
	_, assembleComposeSpan := tracer.Start(ctx, "handoff.assemble_compose")
	composerInput := BuildComposerInput(goal, factsBundle, opItems, modifiedFiles, readFiles, c.budget)
	assembleComposeSpan.End()
	tokensEstimatedCounter.Add(ctx, int64(estimateTokens(composerInput)), metric.WithAttributes(attribute.String("handoff.pass", "compose")))

	composeCtx, composeSpan := tracer.Start(ctx, "handoff.compose")
	composed, err := c.driver.Compose(composeCtx, model, apiKey, composerInput, signal)
	if err != nil {
		composeSpan.RecordError(err)
		composeSpan.SetStatus(codes.Error, err.Error())
	}
	composeSpan.End()
	if err != nil {
		return c.reportPassFailure(ui, err)
	}

	// Step 6: repair missing file blocks.
	composed = EnsureFileBlocks(composed, modifiedFiles, readFiles)

	// Step 7: editor review.
	edited, ok := ui.Editor("Handoff prompt", composed)
	if !ok {
		ui.Notify("Cancelled", "info")
		return nil
	}

	// Step 8: audit entry on the originating session.
	if err := sm.AppendCustomEntry("handoff", map[string]any{
		"goal":      goal,
		"timestamp": time.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("append handoff audit entry: %w", err)
	}

	// Step 9: create the child session and seed its editor.
	cancelled, err := creator.NewSession(sm.GetSessionFile())
	if err != nil {
		return fmt.Errorf("create child session: %w", err)
	}
	if cancelled {
		return nil
	}
	ui.SetEditorText(edited)
	return nil
}

// reportPassFailure distinguishes cancellation (info notify, stop) from a
// genuine LLM failure (error notify, stop) — both terminate the handoff
// without mutating session state, per spec.md §7.
func (c *Controller) reportPassFailure(ui UI, err error) error {
	if IsCancelled(err) {
		ui.Notify("Cancelled", "info")
		return nil
	}
	ui.Notify(friendlyError(err), "error")
	return nil
}

// friendlyError strips the call()-site wrapping so the user sees the
// upstream provider's own message, not Go's error-chain prefixes.
func friendlyError(err error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, "completion call: ")
	return capitalize(msg)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
