package handoff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SelectAnchors implements the anchor selection algorithm of spec.md §4.5:
// the first turn, every hasError/highSignal turn, and the last
// recentTurnCount turns are always included (required-anchor invariant —
// spec.md §8 property 4); remaining turns are added by descending goal
// score, tie-broken by ascending index, until the anchor token budget is
// exhausted.
func SelectAnchors(turns []*Turn, budget Budget) []Anchor {
	if len(turns) == 0 {
		return nil
	}

	recent := budget.RecentTurnCount
	if recent <= 0 {
		recent = DefaultBudget().RecentTurnCount
	}

	required := make(map[int]bool)
	required[0] = true
	for i := len(turns) - recent; i < len(turns); i++ {
		if i >= 0 {
			required[i] = true
		}
	}
	for _, t := range turns {
		if t.HasError || t.HighSignal {
			required[t.Index] = true
		}
	}

	var anchors []Anchor
	var total int

	for i, t := range turns {
		if !required[i] {
			continue
		}
		a := Anchor{Turn: t, Reason: anchorReason(t, true), Required: true}
		a.Excerpt = buildTurnExcerpt(t, budget.RequiredAnchorTokens)
		total += estimateTokens(a.Excerpt)
		anchors = append(anchors, a)
	}

	var optionalCandidates []*Turn
	for i, t := range turns {
		if required[i] {
			continue
		}
		optionalCandidates = append(optionalCandidates, t)
	}
	sort.SliceStable(optionalCandidates, func(i, j int) bool {
		if optionalCandidates[i].GoalScore != optionalCandidates[j].GoalScore {
			return optionalCandidates[i].GoalScore > optionalCandidates[j].GoalScore
		}
		return optionalCandidates[i].Index < optionalCandidates[j].Index
	})

	for _, t := range optionalCandidates {
		if total >= budget.AnchorTokens {
			break
		}
		a := Anchor{Turn: t, Reason: ReasonGoalMatch, Required: false}
		a.Excerpt = buildTurnExcerpt(t, budget.OptionalAnchorTokens)
		total += estimateTokens(a.Excerpt)
		anchors = append(anchors, a)
	}

	sort.SliceStable(anchors, func(i, j int) bool { return anchors[i].Turn.Index < anchors[j].Turn.Index })
	return anchors
}

// anchorReason picks the reason label for a required anchor. "first user"
// takes precedence, then "error", then "key signal"; a required turn that
// is only required because it falls in the trailing recentTurnCount window
// (none of the above apply) falls back to "goal match", the only remaining
// label in the spec's fixed reason enum.
func anchorReason(t *Turn, required bool) AnchorReason {
	switch {
	case t.Index == 0:
		return ReasonFirstUser
	case t.HasError:
		return ReasonError
	case t.HighSignal:
		return ReasonKeySignal
	case required:
		return ReasonGoalMatch
	default:
		return ReasonGoalMatch
	}
}

// buildTurnExcerpt renders a turn's excerpt and truncates it to budget
// tokens. Sections are emitted in order and only when non-empty.
func buildTurnExcerpt(t *Turn, budgetTokens int) string {
	var parts []string

	if t.UserText != "" {
		parts = append(parts, "[User]: "+t.UserText)
	}
	if len(t.AssistantTexts) > 0 {
		parts = append(parts, "[Assistant]: "+strings.Join(t.AssistantTexts, "\n"))
	}
	if len(t.ToolCalls) > 0 {
		parts = append(parts, "[Assistant tool calls]: "+displayToolCalls(t.ToolCalls))
	}
	if errs := displayToolErrors(t.ToolResults); errs != "" {
		parts = append(parts, "[Tool errors]: "+errs)
	}
	if len(t.ExtraTexts) > 0 {
		parts = append(parts, "[Custom]: "+strings.Join(t.ExtraTexts, "\n"))
	}

	excerpt := strings.Join(parts, "\n")
	return truncateToTokens(excerpt, budgetTokens)
}

func displayToolCalls(calls []ToolCallRef) string {
	displays := make([]string, 0, len(calls))
	for _, tc := range calls {
		if tc.Name == "bash" {
			cmd, _ := tc.Arguments["command"].(string)
			cmd = redact(cmd)
			if len(cmd) > 180 {
				cmd = cmd[:180]
			}
			quoted, _ := json.Marshal(cmd)
			displays = append(displays, fmt.Sprintf("bash(command=%s)", quoted))
			continue
		}
		path, _ := tc.Arguments["path"].(string)
		if isSensitivePath(path) {
			displays = append(displays, fmt.Sprintf("%s(path=[redacted])", tc.Name))
			continue
		}
		quoted, _ := json.Marshal(path)
		displays = append(displays, fmt.Sprintf("%s(path=%s)", tc.Name, quoted))
	}
	return strings.Join(displays, "; ")
}

func displayToolErrors(results []ToolResultRef) string {
	var lines []string
	for _, r := range results {
		if r.IsError {
			lines = append(lines, fmt.Sprintf("%s: %s", r.ToolName, r.ContentText))
		}
	}
	return strings.Join(lines, "\n")
}
