package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/lowkaihon/handoff-engine/handoff"
)

// budgetOverride mirrors handoff.Budget with optional fields: a TOML file
// only needs to set the thresholds it wants to change.
type budgetOverride struct {
	MaxExtractTokens     *int `toml:"max_extract_tokens"`
	SummaryTokens        *int `toml:"summary_tokens"`
	SummaryEntryTokens   *int `toml:"summary_entry_tokens"`
	AnchorTokens         *int `toml:"anchor_tokens"`
	RequiredAnchorTokens *int `toml:"required_anchor_tokens"`
	OptionalAnchorTokens *int `toml:"optional_anchor_tokens"`
	OperationalTokens    *int `toml:"operational_tokens"`
	FileTokens           *int `toml:"file_tokens"`
	ComposeInputTokens   *int `toml:"compose_input_tokens"`
	MaxToolOutputLines   *int `toml:"max_tool_output_lines"`
	MaxOperationalItems  *int `toml:"max_operational_items"`
	RecentTurnCount      *int `toml:"recent_turn_count"`
	MaxFileEntries       *int `toml:"max_file_entries"`
}

// LoadBudget returns spec.md §6's default budget, overridden by path if it
// exists. A missing file is not an error — the defaults apply as-is.
func LoadBudget(path string) (handoff.Budget, error) {
	budget := handoff.DefaultBudget()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return budget, nil
		}
		return budget, err
	}

	var override budgetOverride
	if _, err := toml.Decode(string(data), &override); err != nil {
		return budget, err
	}

	applyIntOverride(&budget.MaxExtractTokens, override.MaxExtractTokens)
	applyIntOverride(&budget.SummaryTokens, override.SummaryTokens)
	applyIntOverride(&budget.SummaryEntryTokens, override.SummaryEntryTokens)
	applyIntOverride(&budget.AnchorTokens, override.AnchorTokens)
	applyIntOverride(&budget.RequiredAnchorTokens, override.RequiredAnchorTokens)
	applyIntOverride(&budget.OptionalAnchorTokens, override.OptionalAnchorTokens)
	applyIntOverride(&budget.OperationalTokens, override.OperationalTokens)
	applyIntOverride(&budget.FileTokens, override.FileTokens)
	applyIntOverride(&budget.ComposeInputTokens, override.ComposeInputTokens)
	applyIntOverride(&budget.MaxToolOutputLines, override.MaxToolOutputLines)
	applyIntOverride(&budget.MaxOperationalItems, override.MaxOperationalItems)
	applyIntOverride(&budget.RecentTurnCount, override.RecentTurnCount)
	applyIntOverride(&budget.MaxFileEntries, override.MaxFileEntries)

	return budget, nil
}

func applyIntOverride(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// DefaultBudgetPath is the conventional per-project override location.
func DefaultBudgetPath(workDir string) string {
	return filepath.Join(workDir, ".pilot", "handoff.toml")
}
