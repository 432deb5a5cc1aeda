package handoff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureFileBlocks_AddsBothBlocksWhenEitherMissing(t *testing.T) {
	composed := "# Context\nsome facts\n\n# Task\ndo the thing"
	out := EnsureFileBlocks(composed, []string{"a.go"}, []string{"b.go"})

	assert.Contains(t, out, "<read-files>")
	assert.Contains(t, out, "<modified-files>")
	assert.Contains(t, out, "b.go")
	assert.Contains(t, out, "a.go")
}

func TestEnsureFileBlocks_LeavesBothBlocksUntouchedWhenPresent(t *testing.T) {
	composed := "# Files\n<read-files>\nx.go\n</read-files>\n<modified-files>\ny.go\n</modified-files>"
	out := EnsureFileBlocks(composed, []string{"other.go"}, []string{"other2.go"})

	assert.Equal(t, composed, out, "present blocks are never rewritten, even if file lists differ")
	assert.Equal(t, 1, strings.Count(out, "<read-files>"))
	assert.Equal(t, 1, strings.Count(out, "<modified-files>"))
}

func TestEnsureFileBlocks_Idempotent(t *testing.T) {
	composed := "# Context\nfacts"
	once := EnsureFileBlocks(composed, []string{"a.go"}, []string{"b.go"})
	twice := EnsureFileBlocks(once, []string{"a.go"}, []string{"b.go"})

	assert.Equal(t, once, twice)
}

func TestBuildOperationalSection_EmptyYieldsNone(t *testing.T) {
	assert.Equal(t, "(none)", BuildOperationalSection(nil, DefaultBudget()))
}

func TestBuildFileSection_EmptyYieldsNone(t *testing.T) {
	assert.Equal(t, "(none)", BuildFileSection(nil, nil, DefaultBudget()))
}
