// Heuristics runs the handoff engine's indexing and anchor-selection core
// offline against stored sessions, producing turns.jsonl and sessions.json
// for downstream analysis (spec.md §6's "offline heuristics mode").
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lowkaihon/handoff-engine/config"
	"github.com/lowkaihon/handoff-engine/handoff"
	"github.com/lowkaihon/handoff-engine/session"
)

func main() {
	var dbPath, outDir, budgetPath string

	root := &cobra.Command{
		Use:   "heuristics",
		Short: "Derive turn-level heuristics and anchor selections from stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(dbPath, outDir, budgetPath)
		},
	}
	root.Flags().StringVar(&dbPath, "db", "", "path to the handoff session store (required)")
	root.Flags().StringVar(&outDir, "out", ".", "output directory for turns.jsonl and sessions.json")
	root.Flags().StringVar(&budgetPath, "budget", "", "optional TOML budget override file")
	root.MarkFlagRequired("db")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(dbPath, outDir, budgetPath string) error {
	store, err := session.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	budget := handoff.DefaultBudget()
	if budgetPath != "" {
		budget, err = config.LoadBudget(budgetPath)
		if err != nil {
			return fmt.Errorf("load budget: %w", err)
		}
	}

	sessionFiles, err := store.ListSessionFiles()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	validator, err := compileTurnSchema()
	if err != nil {
		return fmt.Errorf("compile turns schema: %w", err)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	turnsFile, err := os.Create(filepath.Join(outDir, "turns.jsonl"))
	if err != nil {
		return fmt.Errorf("create turns.jsonl: %w", err)
	}
	defer turnsFile.Close()

	var sessions []sessionSummary

	for _, file := range sessionFiles {
		entries, err := store.GetBranch(file)
		if err != nil {
			return fmt.Errorf("get branch %s: %w", file, err)
		}
		if len(entries) == 0 {
			continue
		}

		goal, goalSource := extractGoal(entries)
		idx := handoff.BuildBranchIndex(entries, budget)
		if len(idx.Turns) == 0 {
			continue
		}
		handoff.ScoreTurns(idx.Turns, goal)
		anchors := handoff.SelectAnchors(idx.Turns, budget)

		byIndex := make(map[int]handoff.Anchor, len(anchors))
		for _, a := range anchors {
			byIndex[a.Turn.Index] = a
		}

		for _, t := range idx.Turns {
			record := turnRecord{
				SessionFile: file,
				SessionID:   file,
				GoalSource:  goalSource,
				Goal:        goal,
				TurnIndex:   t.Index,
				EntryID:     t.StartEntryID,
				UserText:    t.UserText,
				AssistantText: joinTexts(t.AssistantTexts),
				ToolCalls:     toolCallSummaries(t.ToolCalls),
				ToolErrors:    toolErrorSummaries(t.ToolResults),
				FilePaths:     filePathList(t.FilePaths),
				HasError:      t.HasError,
				HighSignal:    t.HighSignal,
				GoalScore:     t.GoalScore,
			}
			if a, ok := byIndex[t.Index]; ok {
				record.Selected = true
				record.Required = a.Required
				record.Reasons = []string{string(a.Reason)}
			}

			if err := validateAndWrite(turnsFile, validator, record); err != nil {
				return fmt.Errorf("write turn record: %w", err)
			}
		}

		sessions = append(sessions, sessionSummary{
			SessionFile:   file,
			SessionID:     file,
			GoalSource:    goalSource,
			Goal:          goal,
			TurnCount:     len(idx.Turns),
			SelectedCount: len(anchors),
		})
	}

	sessionsData, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "sessions.json"), sessionsData, 0644); err != nil {
		return fmt.Errorf("write sessions.json: %w", err)
	}

	return nil
}

// extractGoal looks for the most recent "handoff" custom entry on the
// branch and uses its goal; sessions without one carry no goal (every
// turn then scores 0 and only the required anchors are selected).
func extractGoal(entries []session.Entry) (goal, goalSource string) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind != session.KindCustom || e.CustomType != "handoff" {
			continue
		}
		var data struct {
			Goal string `json:"goal"`
		}
		if err := json.Unmarshal(e.Data, &data); err == nil {
			return data.Goal, "handoff"
		}
	}
	return "", "none"
}

func joinTexts(texts []string) string {
	out := ""
	for i, t := range texts {
		if i > 0 {
			out += "\n"
		}
		out += t
	}
	return out
}

func toolCallSummaries(calls []handoff.ToolCallRef) []string {
	out := make([]string, 0, len(calls))
	for _, tc := range calls {
		out = append(out, tc.Name)
	}
	return out
}

func toolErrorSummaries(results []handoff.ToolResultRef) []string {
	var out []string
	for _, r := range results {
		if r.IsError {
			out = append(out, fmt.Sprintf("%s: %s", r.ToolName, r.ContentText))
		}
	}
	return out
}

func filePathList(paths map[string]bool) []string {
	out := make([]string, 0, len(paths))
	for p := range paths {
		out = append(out, p)
	}
	return out
}
