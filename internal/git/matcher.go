package git

import (
	"unicode"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"
)

// Matcher scores a filter pattern against a commit message. ok is false when
// the pattern is not a subsequence of the message.
type Matcher interface {
	Score(pattern, message string) (score int, ok bool)
}

const (
	matchScore       = 16
	consecutiveBonus = 8
	wordStartBonus   = 12
	gapOpenPenalty   = 6
	gapExtendPenalty = 2
)

// defaultMatcher finds the matched characters with sahilm/fuzzy and scores
// only the matched span, so text before the first or after the last
// matched character does not change the score.
type defaultMatcher struct{}

func (defaultMatcher) Score(pattern, message string) (int, bool) {
	matches := fuzzy.Find(pattern, []string{message})
	if len(matches) == 0 {
		return 0, false
	}
	return spanScore(message, matches[0].MatchedIndexes), true
}

func spanScore(message string, indexes []int) int {
	score := 0
	prev := -1
	for _, i := range indexes {
		score += matchScore
		if prev >= 0 {
			if gap := i - prev - 1; gap == 0 {
				score += consecutiveBonus
			} else if gap > 0 {
				score -= gapOpenPenalty + gapExtendPenalty*(gap-1)
			}
		}
		if isWordStart(message, i) {
			score += wordStartBonus
		}
		prev = i
	}
	return score
}

func isWordStart(s string, i int) bool {
	if i <= 0 {
		return true
	}
	if i >= len(s) {
		return false
	}
	before, _ := utf8.DecodeLastRuneInString(s[:i])
	cur, _ := utf8.DecodeRuneInString(s[i:])
	switch {
	case unicode.IsSpace(before), unicode.IsPunct(before), unicode.IsSymbol(before):
		return true
	case unicode.IsLower(before) && unicode.IsUpper(cur):
		return true
	default:
		return false
	}
}
