package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// turnRecord is one line of turns.jsonl: a turn's derived heuristics plus
// its anchor-selection outcome, for offline analysis of the selection
// algorithm (spec.md §4.5) across a corpus of stored sessions.
type turnRecord struct {
	SessionFile   string   `json:"sessionFile"`
	SessionID     string   `json:"sessionId"`
	GoalSource    string   `json:"goalSource"`
	Goal          string   `json:"goal"`
	TurnIndex     int      `json:"turnIndex"`
	EntryID       string   `json:"entryId"`
	UserText      string   `json:"userText"`
	AssistantText string   `json:"assistantText"`
	ToolCalls     []string `json:"toolCalls"`
	ToolErrors    []string `json:"toolErrors"`
	FilePaths     []string `json:"filePaths"`
	HasError      bool     `json:"hasError"`
	HighSignal    bool     `json:"highSignal"`
	GoalScore     int      `json:"goalScore"`
	Selected      bool     `json:"selected"`
	Required      bool     `json:"required"`
	Reasons       []string `json:"reasons"`
}

// sessionSummary is one entry of sessions.json: per-session rollup counts.
type sessionSummary struct {
	SessionFile   string `json:"sessionFile"`
	SessionID     string `json:"sessionId"`
	GoalSource    string `json:"goalSource"`
	Goal          string `json:"goal"`
	TurnCount     int    `json:"turnCount"`
	SelectedCount int    `json:"selectedCount"`
}

const turnSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["sessionFile", "sessionId", "goalSource", "goal", "turnIndex", "entryId",
		"userText", "assistantText", "toolCalls", "toolErrors", "filePaths",
		"hasError", "highSignal", "goalScore", "selected", "required", "reasons"],
	"properties": {
		"sessionFile": {"type": "string"},
		"sessionId": {"type": "string"},
		"goalSource": {"type": "string"},
		"goal": {"type": "string"},
		"turnIndex": {"type": "integer", "minimum": 0},
		"entryId": {"type": "string"},
		"userText": {"type": "string"},
		"assistantText": {"type": "string"},
		"toolCalls": {"type": "array", "items": {"type": "string"}},
		"toolErrors": {"type": "array", "items": {"type": "string"}},
		"filePaths": {"type": "array", "items": {"type": "string"}},
		"hasError": {"type": "boolean"},
		"highSignal": {"type": "boolean"},
		"goalScore": {"type": "integer"},
		"selected": {"type": "boolean"},
		"required": {"type": "boolean"},
		"reasons": {"type": "array", "items": {"type": "string"}}
	}
}`

// compileTurnSchema compiles the turns.jsonl record schema once at startup.
func compileTurnSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("turn.schema.json", strings.NewReader(turnSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile("turn.schema.json")
}

// validateAndWrite marshals record, validates it against schema, and writes
// it as one line of turns.jsonl. A schema violation means BuildBranchIndex
// or SelectAnchors produced a record shape the downstream analysis tooling
// does not expect, so it is treated as fatal rather than skipped.
func validateAndWrite(w io.Writer, schema *jsonschema.Schema, record turnRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal turn record: %w", err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("decode turn record for validation: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("turn record failed schema validation: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(raw)
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}
