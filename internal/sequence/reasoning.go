package sequence

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	minReasonLength       = 10
	elaboratedReasonLen   = 40
	maxTermPoints         = 2
	maxPointsPerSelection = 4.0
)

var strategicTerms = []string{
	"influence",
	"decision",
	"information",
	"relationship",
	"trust",
	"support",
	"priority",
	"stakeholder",
	"authority",
	"risk",
	"deadline",
	"budget",
	"context",
	"approach",
	"insight",
}

// ReasoningScore rates the reasons given for each selection on the 1-5 scale.
// A reason shorter than ten characters counts as missing.
func ReasoningScore(selections []Selection) int {
	if len(selections) == 0 {
		return minScore
	}

	var total float64
	answered := 0
	for _, s := range selections {
		reason := strings.ToLower(strings.TrimSpace(s.Reason))
		if utf8.RuneCountInString(reason) < minReasonLength {
			continue
		}
		answered++
		points := 1.0
		if utf8.RuneCountInString(reason) >= elaboratedReasonLen {
			points++
		}
		points += math.Min(float64(countTerms(reason)), maxTermPoints)
		total += points
	}
	if answered == 0 {
		return minScore
	}

	coverage := float64(answered) / float64(len(selections))
	avg := total / float64(answered)
	score := minScore + avg/maxPointsPerSelection*(maxScore-minScore)*coverage
	return clampScore(int(math.Round(score)))
}

func countTerms(text string) int {
	n := 0
	for _, term := range strategicTerms {
		if strings.Contains(text, term) {
			n++
		}
	}
	return n
}
