// Package handoff builds goal-conditioned handoff packets: given a branch of
// a coding-agent session and a short natural-language goal, it produces a
// single first-message prompt that seeds a follow-up session with exactly
// the context needed to continue.
package handoff

import (
	"context"
	"sync/atomic"
)

// ToolCallRef is one assistant tool call recorded during indexing.
type ToolCallRef struct {
	ID        string
	Name      string
	Arguments map[string]any
	EntryID   string
}

// ToolResultRef is one tool result recorded during indexing.
type ToolResultRef struct {
	ToolCallID  string
	ToolName    string
	IsError     bool
	ContentText string
}

// Turn is a maximal contiguous segment beginning with a user message (or the
// branch start) and running up to, but not including, the next user message.
type Turn struct {
	Index        int
	StartEntryID string
	EntryIDs     []string

	UserText      string
	AssistantTexts []string
	ExtraTexts    []string

	ToolCalls   []ToolCallRef
	ToolResults []ToolResultRef
	FilePaths   map[string]bool

	HasError   bool
	HighSignal bool

	SearchText string
	GoalScore  int
}

// SummaryEntry is a compaction/branch_summary entry preserved verbatim.
type SummaryEntry struct {
	EntryID string
	Kind    string // "compaction" | "branch_summary"
	Summary string
	Details *FileHints
}

// FileHints mirrors session.SummaryDetails for summaries that carry
// read/modified file hints.
type FileHints struct {
	ReadFiles     []string
	ModifiedFiles []string
}

// FileOperations tracks which paths were read vs. modified across the
// branch. A path that appears in both is resolved to Modified.
type FileOperations struct {
	Read     map[string]bool
	Modified map[string]bool
}

func newFileOperations() *FileOperations {
	return &FileOperations{Read: map[string]bool{}, Modified: map[string]bool{}}
}

func (f *FileOperations) addRead(path string) {
	if path == "" || f.Modified[path] {
		return
	}
	f.Read[path] = true
}

func (f *FileOperations) addModified(path string) {
	if path == "" {
		return
	}
	delete(f.Read, path)
	f.Modified[path] = true
}

// ToolCallInfo is the indexed view of a tool call keyed by ID, used to
// match later tool results back to the call that produced them.
type ToolCallInfo struct {
	ID        string
	Name      string
	Arguments map[string]any
	TurnIndex int
}

// BranchIndex is the derived, turn-level model of a branch.
type BranchIndex struct {
	Turns         []*Turn
	SummaryEntries []SummaryEntry
	FileOps       *FileOperations
	ToolCallsByID map[string]ToolCallInfo
}

// AnchorReason explains why a turn was selected as an anchor.
type AnchorReason string

const (
	ReasonFirstUser AnchorReason = "first user"
	ReasonError     AnchorReason = "error"
	ReasonKeySignal AnchorReason = "key signal"
	ReasonGoalMatch AnchorReason = "goal match"
)

// Anchor is a turn chosen to be included, subject to per-anchor truncation,
// in the extractor input.
type Anchor struct {
	Turn     *Turn
	Reason   AnchorReason
	Excerpt  string
	Required bool
}

// OperationalItem is one ranked tool-error or bash-invocation highlight.
type OperationalItem struct {
	Text    string
	IsError bool
	Score   int
}

// Budget holds every tunable threshold the builder uses. Defaults are
// spec.md §6's literal numbers; overrides are per invocation (see
// config.LoadBudget for the TOML-file override path).
type Budget struct {
	MaxExtractTokens     int
	SummaryTokens        int
	SummaryEntryTokens   int
	AnchorTokens         int
	RequiredAnchorTokens int
	OptionalAnchorTokens int
	OperationalTokens    int
	FileTokens           int
	ComposeInputTokens   int
	MaxToolOutputLines   int
	MaxOperationalItems  int
	RecentTurnCount      int
	MaxFileEntries       int
}

// DefaultBudget returns the spec.md §6 default thresholds.
func DefaultBudget() Budget {
	return Budget{
		MaxExtractTokens:     7000,
		SummaryTokens:        1800,
		SummaryEntryTokens:   600,
		AnchorTokens:         2600,
		RequiredAnchorTokens: 220,
		OptionalAnchorTokens: 260,
		OperationalTokens:    800,
		FileTokens:           400,
		ComposeInputTokens:   2200,
		MaxToolOutputLines:   8,
		MaxOperationalItems:  10,
		RecentTurnCount:      2,
		MaxFileEntries:       60,
	}
}

// CancelSignal is an observer-pattern cancellation token: an atomically
// settable "aborted" flag that every suspension point in the driver and
// controller checks, wrapping a context.Context as the underlying carrier
// (the idiomatic Go mechanism for the same thing).
type CancelSignal struct {
	ctx     context.Context
	aborted atomic.Bool
}

// NewCancelSignal derives a cancel signal from ctx. Cancelling ctx (or
// calling Abort) marks the signal aborted.
func NewCancelSignal(ctx context.Context) *CancelSignal {
	return &CancelSignal{ctx: ctx}
}

// Abort idempotently marks the signal fired.
func (c *CancelSignal) Abort() {
	c.aborted.Store(true)
}

// Aborted reports whether the signal has fired, either via Abort or via the
// underlying context's cancellation.
func (c *CancelSignal) Aborted() bool {
	if c.aborted.Load() {
		return true
	}
	if c.ctx != nil && c.ctx.Err() != nil {
		return true
	}
	return false
}

// Context returns the underlying context, for passing to I/O calls that
// need their own cancellation plumbing.
func (c *CancelSignal) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Done returns a channel that closes when the signal fires via its
// underlying context (sleep(ms, signal) in spec.md §5).
func (c *CancelSignal) Done() <-chan struct{} {
	return c.Context().Done()
}
