package handoff

import (
	"regexp"
	"strings"
)

var goalTokenPattern = regexp.MustCompile(`[^a-z0-9_./-]+`)

// tokenizeGoal lowercases goal and splits on anything that isn't
// [a-z0-9_./-], discarding tokens shorter than 3 characters.
func tokenizeGoal(goal string) []string {
	lower := strings.ToLower(goal)
	parts := goalTokenPattern.Split(lower, -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) >= 3 {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// ScoreTurns tokenizes goal and scores every turn against it in place,
// setting Turn.GoalScore. Ties in downstream selection break by original
// turn order, so scoring itself need not be stable beyond that.
func ScoreTurns(turns []*Turn, goal string) {
	tokens := tokenizeGoal(goal)
	lowerGoal := strings.ToLower(goal)
	for _, t := range turns {
		t.GoalScore = scoreTurn(t, tokens, lowerGoal)
	}
}

func scoreTurn(t *Turn, tokens []string, lowerGoal string) int {
	if len(tokens) == 0 {
		return 0
	}
	score := 0
	for _, tok := range tokens {
		if strings.Contains(t.SearchText, tok) {
			if len(tok) > 4 {
				score += 2
			} else {
				score += 1
			}
		}
	}
	for path := range t.FilePaths {
		lowerPath := strings.ToLower(path)
		if strings.Contains(lowerGoal, lowerPath) {
			score += 3
		}
		for _, tok := range tokens {
			if strings.Contains(lowerPath, tok) {
				score += 1
			}
		}
	}
	return score
}
