package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lowkaihon/handoff-engine/handoff"
)

func TestLoadBudget_MissingFileReturnsDefaults(t *testing.T) {
	got, err := LoadBudget(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := handoff.DefaultBudget()
	if got.MaxExtractTokens != want.MaxExtractTokens || got.AnchorTokens != want.AnchorTokens {
		t.Fatalf("got %+v, want defaults %+v", got, want)
	}
}

func TestLoadBudget_OverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handoff.toml")
	content := "anchor_tokens = 1000\nmax_operational_items = 5\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write toml: %s", err)
	}

	got, err := LoadBudget(path)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	want := handoff.DefaultBudget()
	if got.AnchorTokens != 1000 {
		t.Fatalf("AnchorTokens override not applied: got %d", got.AnchorTokens)
	}
	if got.MaxOperationalItems != 5 {
		t.Fatalf("MaxOperationalItems override not applied: got %d", got.MaxOperationalItems)
	}
	if got.SummaryTokens != want.SummaryTokens {
		t.Fatalf("unrelated field SummaryTokens should stay at default, got %d want %d", got.SummaryTokens, want.SummaryTokens)
	}
}
