package handoff

import (
	"fmt"
	"strings"

	"github.com/lowkaihon/handoff-engine/session"
)

// highSignalMarkers promote a turn to a required anchor when present in its
// normalized, lowercased search text.
var highSignalMarkers = []string{
	"must", "constraint", "decision", "blocked", "todo", "fix",
	"should", "require", "avoid", "risk", "bug", "prefer",
}

// BuildBranchIndex walks entries (root to leaf on the current branch) and
// derives the turn-level model described in spec.md §4.3. It is
// deterministic for a fixed (entries, budget) pair.
func BuildBranchIndex(entries []session.Entry, budget Budget) *BranchIndex {
	idx := &BranchIndex{
		FileOps:       newFileOperations(),
		ToolCallsByID: map[string]ToolCallInfo{},
	}

	var open *Turn
	finalize := func() {
		if open == nil {
			return
		}
		finalizeTurn(open)
		idx.Turns = append(idx.Turns, open)
		open = nil
	}

	maxOut := budget.MaxToolOutputLines
	if maxOut <= 0 {
		maxOut = DefaultBudget().MaxToolOutputLines
	}

	for _, e := range entries {
		switch e.Kind {
		case session.KindSessionHeader:
			continue

		case session.KindMessage:
			switch e.Role {
			case session.RoleUser:
				finalize()
				open = &Turn{
					Index:        len(idx.Turns),
					StartEntryID: e.ID,
					FilePaths:    map[string]bool{},
					UserText:     normalize(e.Text),
				}
				open.EntryIDs = append(open.EntryIDs, e.ID)

			case session.RoleAssistant:
				if open == nil {
					open = &Turn{Index: len(idx.Turns), StartEntryID: e.ID, FilePaths: map[string]bool{}}
				}
				open.EntryIDs = append(open.EntryIDs, e.ID)
				for _, block := range e.Content {
					switch block.Kind {
					case session.BlockText, session.BlockThinking:
						if t := normalize(block.Text); t != "" {
							open.AssistantTexts = append(open.AssistantTexts, t)
						}
					case session.BlockToolCall:
						if block.ToolCall == nil {
							continue
						}
						tc := ToolCallRef{
							ID:        block.ToolCall.ID,
							Name:      block.ToolCall.Name,
							Arguments: block.ToolCall.Arguments,
							EntryID:   e.ID,
						}
						open.ToolCalls = append(open.ToolCalls, tc)
						idx.ToolCallsByID[tc.ID] = ToolCallInfo{
							ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, TurnIndex: open.Index,
						}
						recordFileOp(idx.FileOps, open, tc)
					}
				}
				if e.StopReason == "error" || e.ErrorMessage != "" {
					open.HasError = true
				}

			case session.RoleToolResult:
				if open == nil {
					open = &Turn{Index: len(idx.Turns), FilePaths: map[string]bool{}}
				}
				open.EntryIDs = append(open.EntryIDs, e.ID)
				if e.ToolResult == nil {
					continue
				}
				content := normalize(truncateLines(e.ToolResult.Content, maxOut))
				open.ToolResults = append(open.ToolResults, ToolResultRef{
					ToolCallID:  e.ToolResult.ToolCallID,
					ToolName:    e.ToolResult.ToolName,
					IsError:     e.ToolResult.IsError,
					ContentText: content,
				})
				if e.ToolResult.IsError {
					open.HasError = true
				}
			}

		case session.KindCustomMessage:
			if open == nil {
				open = &Turn{Index: len(idx.Turns), StartEntryID: e.ID, FilePaths: map[string]bool{}}
			}
			open.EntryIDs = append(open.EntryIDs, e.ID)
			if t := normalize(e.Text); t != "" {
				open.ExtraTexts = append(open.ExtraTexts, t)
			}

		case session.KindCompaction, session.KindBranchSummary:
			se := SummaryEntry{
				EntryID: e.ID,
				Kind:    string(e.Kind),
				Summary: normalize(e.Summary),
			}
			if e.Details != nil {
				se.Details = &FileHints{ReadFiles: e.Details.ReadFiles, ModifiedFiles: e.Details.ModifiedFiles}
				for _, p := range e.Details.ReadFiles {
					idx.FileOps.addRead(p)
				}
				for _, p := range e.Details.ModifiedFiles {
					idx.FileOps.addModified(p)
				}
			}
			idx.SummaryEntries = append(idx.SummaryEntries, se)

		default:
			// Unknown entry types (and KindCustom, which is extension state not
			// attributable to any turn) are skipped silently.
		}
	}
	finalize()

	return idx
}

// recordFileOp updates fileOps and the turn's filePaths set from a tool
// call's "path" argument: read -> read, write|edit -> modified.
func recordFileOp(ops *FileOperations, turn *Turn, tc ToolCallRef) {
	path, _ := tc.Arguments["path"].(string)
	if path == "" {
		return
	}
	turn.FilePaths[path] = true
	switch tc.Name {
	case "read":
		ops.addRead(path)
	case "write", "edit":
		ops.addModified(path)
	}
}

// toolCallSignature is "bash "+redact(command) for bash calls, else
// "toolName path" — used to build a turn's searchText.
func toolCallSignature(tc ToolCallRef) string {
	if tc.Name == "bash" {
		cmd, _ := tc.Arguments["command"].(string)
		return "bash " + redact(cmd)
	}
	path, _ := tc.Arguments["path"].(string)
	return tc.Name + " " + path
}

func finalizeTurn(t *Turn) {
	var sb strings.Builder
	sb.WriteString(t.UserText)
	for _, a := range t.AssistantTexts {
		sb.WriteString(" ")
		sb.WriteString(a)
	}
	for _, x := range t.ExtraTexts {
		sb.WriteString(" ")
		sb.WriteString(x)
	}
	for _, tc := range t.ToolCalls {
		sb.WriteString(" ")
		sb.WriteString(toolCallSignature(tc))
	}
	for _, tr := range t.ToolResults {
		if tr.IsError {
			sb.WriteString(" ")
			sb.WriteString(fmt.Sprintf("%s: %s", tr.ToolName, tr.ContentText))
		}
	}

	t.SearchText = strings.ToLower(normalize(sb.String()))

	for _, tr := range t.ToolResults {
		if tr.IsError {
			t.HasError = true
		}
	}
	for _, m := range highSignalMarkers {
		if strings.Contains(t.SearchText, m) {
			t.HighSignal = true
			break
		}
	}
}
