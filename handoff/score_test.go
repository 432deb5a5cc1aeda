package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeGoal_DropsShortTokens(t *testing.T) {
	tokens := tokenizeGoal("Fix the auth.go bug in 2 places")
	assert.NotContains(t, tokens, "in")
	assert.NotContains(t, tokens, "2")
	assert.Contains(t, tokens, "auth.go")
	assert.Contains(t, tokens, "bug")
	assert.Contains(t, tokens, "places")
}

func TestScoreTurns_EmptyGoalScoresZero(t *testing.T) {
	turns := []*Turn{{Index: 0, SearchText: "fixed the auth bug", FilePaths: map[string]bool{}}}
	ScoreTurns(turns, "")
	assert.Equal(t, 0, turns[0].GoalScore)
}

func TestScoreTurns_MatchingGoalTokensIncreaseScore(t *testing.T) {
	matching := &Turn{Index: 0, SearchText: "fixed the authentication bug", FilePaths: map[string]bool{}}
	unrelated := &Turn{Index: 1, SearchText: "added a readme", FilePaths: map[string]bool{}}

	ScoreTurns([]*Turn{matching, unrelated}, "fix authentication bug")
	assert.Greater(t, matching.GoalScore, unrelated.GoalScore)
}

func TestScoreTurns_FilePathMentionedInGoalScoresHighest(t *testing.T) {
	turns := []*Turn{{
		Index: 0, SearchText: "updated things", FilePaths: map[string]bool{"internal/auth.go": true},
	}}
	ScoreTurns(turns, "finish work on internal/auth.go")
	assert.GreaterOrEqual(t, turns[0].GoalScore, 3)
}
