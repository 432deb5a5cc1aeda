package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lowkaihon/handoff-engine/session"
)

// ToSessionEntries renders the live in-memory conversation (minus the
// system prompt) as the ordered session.Entry sequence the handoff engine
// indexes. The agent's own persistence (SaveSession) is a flat
// llm.Message log; this is a read-only view over the same data shaped to
// the branch-tree model the handoff core expects.
func (a *Agent) ToSessionEntries() []session.Entry {
	entries := make([]session.Entry, 0, len(a.messages))
	toolNameByCallID := map[string]string{}

	for i, m := range a.messages {
		if m.Role == "system" {
			continue
		}
		id := fmt.Sprintf("entry-%d", i)

		switch m.Role {
		case "user":
			entries = append(entries, session.Entry{
				Kind: session.KindMessage,
				ID:   id,
				Role: session.RoleUser,
				Text: m.ContentString(),
			})

		case "assistant":
			e := session.Entry{Kind: session.KindMessage, ID: id, Role: session.RoleAssistant}
			if text := m.ContentString(); text != "" {
				e.Content = append(e.Content, session.ContentBlock{Kind: session.BlockText, Text: text})
			}
			for _, tc := range m.ToolCalls {
				toolNameByCallID[tc.ID] = tc.Function.Name
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				e.Content = append(e.Content, session.ContentBlock{
					Kind: session.BlockToolCall,
					ToolCall: &session.ToolCall{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: args,
					},
				})
			}
			entries = append(entries, e)

		case "tool":
			content := m.ContentString()
			entries = append(entries, session.Entry{
				Kind: session.KindMessage,
				ID:   id,
				Role: session.RoleToolResult,
				ToolResult: &session.ToolResultData{
					ToolCallID: m.ToolCallID,
					ToolName:   toolNameByCallID[m.ToolCallID],
					IsError:    strings.HasPrefix(content, "Error:"),
					Content:    content,
				},
			})
		}
	}

	return entries
}
