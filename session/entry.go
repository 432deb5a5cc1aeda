// Package session implements the append-only branch tree that persists a
// coding-agent conversation: messages, tool calls/results, compaction and
// branch-summary entries, and extension state. It is the "session
// persistence layer" the handoff engine treats as an external collaborator,
// consumed only through the narrow interfaces in the handoff package.
package session

import (
	"encoding/json"
	"time"
)

// Kind discriminates the entry variants that can appear on a branch.
type Kind string

const (
	KindMessage       Kind = "message"
	KindCustomMessage Kind = "custom_message"
	KindCompaction    Kind = "compaction"
	KindBranchSummary Kind = "branch_summary"
	KindCustom        Kind = "custom"
	KindSessionHeader Kind = "session"
)

// Role identifies the speaker of a message entry.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "toolResult"
)

// BlockKind discriminates an assistant message's content blocks.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockThinking BlockKind = "thinking"
	BlockToolCall BlockKind = "toolCall"
)

// ContentBlock is one block of an assistant message.
type ContentBlock struct {
	Kind     BlockKind
	Text     string
	ToolCall *ToolCall
}

// ToolCall is an assistant-issued call to a tool, keyed by ID so that a
// later toolResult entry can be matched back to it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResultData is the payload of a message entry with Role=RoleToolResult.
type ToolResultData struct {
	ToolCallID string
	ToolName   string
	IsError    bool
	Content    string
}

// SummaryDetails carries the file-operation hints a compaction or
// branch_summary entry may record.
type SummaryDetails struct {
	ReadFiles     []string
	ModifiedFiles []string
}

// Entry is one node in the session tree. Only the fields relevant to Kind
// (and, for KindMessage, to Role) are populated; this mirrors the tagged
// union spec.md describes rather than splitting into one Go type per
// variant, since the branch indexer dispatches on Kind/Role directly.
type Entry struct {
	Kind      Kind
	ID        string
	ParentID  string
	Timestamp time.Time

	// KindMessage
	Role         Role
	Text         string // user message text, or custom_message text
	Content      []ContentBlock
	StopReason   string
	ErrorMessage string
	ToolResult   *ToolResultData

	// KindCompaction / KindBranchSummary
	Summary string
	Details *SummaryDetails

	// KindCustom
	CustomType string
	Data       json.RawMessage
}

// IsError reports whether this entry itself signals a failure: an
// errorMessage/stopReason=error on an assistant message, or an isError
// tool result.
func (e Entry) IsError() bool {
	if e.Kind != KindMessage {
		return false
	}
	if e.Role == RoleAssistant && (e.StopReason == "error" || e.ErrorMessage != "") {
		return true
	}
	if e.Role == RoleToolResult && e.ToolResult != nil && e.ToolResult.IsError {
		return true
	}
	return false
}
