package handoff

import (
	"fmt"
	"sort"
	"strings"
)

// CollectOperationalItems implements spec.md §4.6: a tool result is a
// candidate if it errored or its call was bash. Bash items render as
// "bash: <cmd> -> <output-or-ok>"; others as "toolName: <content>", each
// piece cut to 200 characters. Duplicates (by rendered text) collapse to
// one. Errors are always kept; successes are capped at maxOperationalItems
// before the two are combined and the combined list is capped again.
func CollectOperationalItems(idx *BranchIndex, budget Budget) []OperationalItem {
	maxItems := budget.MaxOperationalItems
	if maxItems <= 0 {
		maxItems = DefaultBudget().MaxOperationalItems
	}

	seen := map[string]bool{}
	var errors, successes []OperationalItem

	for _, t := range idx.Turns {
		for _, r := range t.ToolResults {
			isBash := r.ToolName == "bash"
			if !r.IsError && !isBash {
				continue
			}

			var text string
			if isBash {
				cmd := ""
				if tc, ok := idx.ToolCallsByID[r.ToolCallID]; ok {
					cmd, _ = tc.Arguments["command"].(string)
				}
				out := r.ContentText
				if out == "" {
					out = "ok"
				}
				text = fmt.Sprintf("bash: %s -> %s", truncateChars(redact(cmd), 200), truncateChars(out, 200))
			} else {
				text = fmt.Sprintf("%s: %s", r.ToolName, truncateChars(r.ContentText, 200))
			}

			if seen[text] {
				continue
			}
			seen[text] = true

			score := 1
			if r.IsError {
				score = 5
			}
			if t.GoalScore > 0 {
				score += 2
			}
			score += t.GoalScore

			item := OperationalItem{Text: text, IsError: r.IsError, Score: score}
			if r.IsError {
				errors = append(errors, item)
			} else {
				successes = append(successes, item)
			}
		}
	}

	sort.SliceStable(errors, func(i, j int) bool { return errors[i].Score > errors[j].Score })
	sort.SliceStable(successes, func(i, j int) bool { return successes[i].Score > successes[j].Score })
	if len(successes) > maxItems {
		successes = successes[:maxItems]
	}

	combined := append(errors, successes...)
	if len(combined) > maxItems {
		combined = combined[:maxItems]
	}
	return combined
}

// BuildOperationalSection renders operational items as bullets, truncated
// to operationalTokens.
func BuildOperationalSection(items []OperationalItem, budget Budget) string {
	if len(items) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, "- "+it.Text)
	}
	return truncateToTokens(strings.Join(lines, "\n"), budget.OperationalTokens)
}

// ComputeFileLists implements spec.md §4.6's file-list rule: modified and
// read-only paths sorted, each capped at maxFileEntries, with sensitive
// paths removed after truncation (so a capped list can come back shorter
// than maxFileEntries, but truncation itself never depends on
// sensitivity).
func ComputeFileLists(ops *FileOperations, budget Budget) (modified, read []string) {
	maxEntries := budget.MaxFileEntries
	if maxEntries <= 0 {
		maxEntries = DefaultBudget().MaxFileEntries
	}

	modified = capAndScrub(sortedKeys(ops.Modified), maxEntries)
	read = capAndScrub(sortedKeys(ops.Read), maxEntries)
	return modified, read
}

func capAndScrub(paths []string, maxEntries int) []string {
	if len(paths) > maxEntries {
		paths = paths[:maxEntries]
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !isSensitivePath(p) {
			out = append(out, p)
		}
	}
	return out
}

// BuildFileSection renders the "Files" section of the extractor input:
// Read-only and Modified blocks, truncated to fileTokens.
func BuildFileSection(modified, read []string, budget Budget) string {
	var parts []string
	if len(read) > 0 {
		parts = append(parts, "Read-only:\n"+bulletList(read))
	}
	if len(modified) > 0 {
		parts = append(parts, "Modified:\n"+bulletList(modified))
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return truncateToTokens(strings.Join(parts, "\n"), budget.FileTokens)
}

func bulletList(paths []string) string {
	lines := make([]string, 0, len(paths))
	for _, p := range paths {
		lines = append(lines, "- "+p)
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncateChars cuts s to n characters with no marker appended — used for
// the C6 200-character field truncation, distinct from the token-budget
// truncation in tokens.go.
func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
