package handoff

import (
	"fmt"
	"strings"
)

// ExtractorSystemPrompt is the fixed system prompt for LLM pass 1: it
// converts the assembled extractor input into a structured facts bundle.
// The section list is the single source of truth for pass-1 output shape
// (spec.md §4.8) and must not be altered per invocation.
const ExtractorSystemPrompt = `You are preparing a handoff packet for a coding agent session. You will be given a goal for a follow-up session, summaries of prior work, anchor turns excerpted from the conversation, operational context, and a file list.

Produce a structured facts bundle in markdown with exactly these sections, in this order, using "(none)" for any section with nothing to report:

# Goal
# Constraints & Preferences
# Decisions
# Progress
## Done
## In Progress
## Blocked
# Errors
# Operational Highlights
# Files
# Notes

Be concise and factual. Do not invent information not present in the input. Do not include secrets or credentials; treat any already-redacted text as already safe.`

// ComposerSystemPrompt is the fixed system prompt for LLM pass 2: it turns
// the pass-1 facts bundle into the final handoff prompt.
const ComposerSystemPrompt = `You are composing the first message of a new coding agent session from a facts bundle produced for a handoff. Write a single prompt with exactly these top-level sections, in this order:

# Context
# Operational Context
# Files
# Task
# Notes

The Files section must contain exactly one <read-files>...</read-files> block and exactly one <modified-files>...</modified-files> block, each a newline-separated list of paths (or empty if none). The Task section states the goal for this new session plainly. Do not invent information not present in the facts bundle. Do not include secrets or credentials.`

// BuildExtractorInput assembles the pass-1 user input: Goal, Summaries,
// Anchors, Operational context, Files — joined by blank lines and
// truncated overall to maxExtractTokens (spec.md §4.7).
func BuildExtractorInput(goal string, idx *BranchIndex, anchors []Anchor, opItems []OperationalItem, modifiedFiles, readFiles []string, budget Budget) string {
	sections := []string{
		"Goal: " + normalize(goal),
		"Summaries\n" + buildSummariesSection(idx.SummaryEntries, budget),
		"Anchors\n" + buildAnchorsSection(anchors),
		"Operational context\n" + BuildOperationalSection(opItems, budget),
		"Files\n" + BuildFileSection(modifiedFiles, readFiles, budget),
	}
	full := strings.Join(sections, "\n\n")
	max := budget.MaxExtractTokens
	if max <= 0 {
		max = DefaultBudget().MaxExtractTokens
	}
	return truncateToTokens(full, max)
}

// BuildComposerInput assembles the pass-2 user input: Goal, the pass-1
// facts bundle, Operational context, Files — truncated overall to
// composeInputTokens.
func BuildComposerInput(goal, factsBundle string, opItems []OperationalItem, modifiedFiles, readFiles []string, budget Budget) string {
	sections := []string{
		"Goal: " + normalize(goal),
		"Extracted facts bundle\n" + nonEmpty(factsBundle),
		"Operational context\n" + BuildOperationalSection(opItems, budget),
		"Files\n" + BuildFileSection(modifiedFiles, readFiles, budget),
	}
	full := strings.Join(sections, "\n\n")
	max := budget.ComposeInputTokens
	if max <= 0 {
		max = DefaultBudget().ComposeInputTokens
	}
	return truncateToTokens(full, max)
}

func buildSummariesSection(entries []SummaryEntry, budget Budget) string {
	if len(entries) == 0 {
		return "(none)"
	}

	perEntry := budget.SummaryEntryTokens
	if perEntry <= 0 {
		perEntry = DefaultBudget().SummaryEntryTokens
	}
	overall := budget.SummaryTokens
	if overall <= 0 {
		overall = DefaultBudget().SummaryTokens
	}
	share := overall / len(entries)
	if share < perEntry {
		perEntry = share
	}

	blocks := make([]string, 0, len(entries))
	for _, se := range entries {
		header := fmt.Sprintf("[%s %s]", se.Kind, se.EntryID)
		body := truncateToTokens(se.Summary, perEntry)
		blocks = append(blocks, header+"\n"+body)
	}
	return strings.Join(blocks, "\n\n")
}

func buildAnchorsSection(anchors []Anchor) string {
	if len(anchors) == 0 {
		return "(none)"
	}
	blocks := make([]string, 0, len(anchors))
	for _, a := range anchors {
		blocks = append(blocks, fmt.Sprintf("### Turn %d (%s)\n%s", a.Turn.Index+1, a.Reason, a.Excerpt))
	}
	return strings.Join(blocks, "\n\n")
}

func nonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// EnsureFileBlocks repairs a composed prompt missing its machine-parseable
// file blocks. Per spec.md §9's resolution of the open question: if either
// block is missing, both are appended (never just the missing one), so the
// step is idempotent — a prompt already carrying both blocks is returned
// unchanged.
func EnsureFileBlocks(composed string, modifiedFiles, readFiles []string) string {
	hasRead := strings.Contains(composed, "<read-files>")
	hasModified := strings.Contains(composed, "<modified-files>")
	if hasRead && hasModified {
		return composed
	}

	readBlock := "<read-files>\n" + strings.Join(readFiles, "\n") + "\n</read-files>"
	modifiedBlock := "<modified-files>\n" + strings.Join(modifiedFiles, "\n") + "\n</modified-files>"
	return composed + "\n\n" + readBlock + "\n" + modifiedBlock
}
