package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowkaihon/handoff-engine/session"
)

func userEntry(id, text string) session.Entry {
	return session.Entry{Kind: session.KindMessage, ID: id, Role: session.RoleUser, Text: text}
}

func assistantTextEntry(id, text string) session.Entry {
	return session.Entry{
		Kind: session.KindMessage, ID: id, Role: session.RoleAssistant,
		Content: []session.ContentBlock{{Kind: session.BlockText, Text: text}},
	}
}

func assistantToolCallEntry(id, callID, name string, args map[string]any) session.Entry {
	return session.Entry{
		Kind: session.KindMessage, ID: id, Role: session.RoleAssistant,
		Content: []session.ContentBlock{{
			Kind:     session.BlockToolCall,
			ToolCall: &session.ToolCall{ID: callID, Name: name, Arguments: args},
		}},
	}
}

func toolResultEntry(id, callID, name, content string, isError bool) session.Entry {
	return session.Entry{
		Kind: session.KindMessage, ID: id, Role: session.RoleToolResult,
		ToolResult: &session.ToolResultData{ToolCallID: callID, ToolName: name, Content: content, IsError: isError},
	}
}

func TestBuildBranchIndex_GroupsByUserMessage(t *testing.T) {
	entries := []session.Entry{
		userEntry("e1", "fix the bug"),
		assistantTextEntry("e2", "looking into it"),
		assistantToolCallEntry("e3", "call-1", "bash", map[string]any{"command": "go test ./..."}),
		toolResultEntry("e4", "call-1", "bash", "ok", false),
		userEntry("e5", "now add a test"),
		assistantTextEntry("e6", "done"),
	}

	idx := BuildBranchIndex(entries, DefaultBudget())
	require.Len(t, idx.Turns, 2)

	first := idx.Turns[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "fix the bug", first.UserText)
	assert.Len(t, first.ToolCalls, 1)
	assert.Len(t, first.ToolResults, 1)

	second := idx.Turns[1]
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, "now add a test", second.UserText)
}

func TestBuildBranchIndex_FileOpsModifiedTakesPrecedence(t *testing.T) {
	entries := []session.Entry{
		userEntry("e1", "edit config"),
		assistantToolCallEntry("e2", "c1", "read", map[string]any{"path": "config.go"}),
		toolResultEntry("e3", "c1", "read", "package config", false),
		assistantToolCallEntry("e4", "c2", "edit", map[string]any{"path": "config.go"}),
		toolResultEntry("e5", "c2", "edit", "ok", false),
	}

	idx := BuildBranchIndex(entries, DefaultBudget())
	assert.True(t, idx.FileOps.Modified["config.go"])
	assert.False(t, idx.FileOps.Read["config.go"])
}

func TestBuildBranchIndex_ErrorAndHighSignalFlags(t *testing.T) {
	entries := []session.Entry{
		userEntry("e1", "we must avoid breaking the API"),
		assistantToolCallEntry("e2", "c1", "bash", map[string]any{"command": "go build ./..."}),
		toolResultEntry("e3", "c1", "bash", "compile error: undefined foo", true),
	}

	idx := BuildBranchIndex(entries, DefaultBudget())
	require.Len(t, idx.Turns, 1)
	turn := idx.Turns[0]
	assert.True(t, turn.HasError)
	assert.True(t, turn.HighSignal, "search text should match a high-signal marker like 'must'/'avoid'")
}

func TestBuildBranchIndex_Deterministic(t *testing.T) {
	entries := []session.Entry{
		userEntry("e1", "goal"),
		assistantTextEntry("e2", "work"),
	}
	budget := DefaultBudget()

	first := BuildBranchIndex(entries, budget)
	second := BuildBranchIndex(entries, budget)

	require.Len(t, first.Turns, 1)
	require.Len(t, second.Turns, 1)
	assert.Equal(t, first.Turns[0].SearchText, second.Turns[0].SearchText)
}

func TestBuildBranchIndex_SummaryEntriesCarryFileHints(t *testing.T) {
	entries := []session.Entry{
		{
			Kind:    session.KindCompaction,
			ID:      "s1",
			Summary: "compacted prior work",
			Details: &session.SummaryDetails{ReadFiles: []string{"a.go"}, ModifiedFiles: []string{"b.go"}},
		},
		userEntry("e1", "continue"),
	}

	idx := BuildBranchIndex(entries, DefaultBudget())
	require.Len(t, idx.SummaryEntries, 1)
	assert.Equal(t, "compaction", idx.SummaryEntries[0].Kind)
	assert.True(t, idx.FileOps.Read["a.go"])
	assert.True(t, idx.FileOps.Modified["b.go"])
}
