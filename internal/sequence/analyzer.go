// Package sequence scores the order in which a trainee chooses to approach the
// personas of a scenario against a reference order derived from persona
// attributes.
package sequence

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	weightInfluence       = 0.30
	weightApproachability = 0.25
	weightInformation     = 0.25
	weightRelationships   = 0.20

	attributeScale  = 10.0
	countSaturation = 5.0

	minScore = 1
	maxScore = 5

	orderWeight     = 0.7
	reasoningWeight = 0.3
)

var (
	ErrNoProfiles       = errors.New("sequence: no personas to rank")
	ErrDuplicateProfile = errors.New("sequence: duplicate persona profile")
	ErrNoSelections     = errors.New("sequence: no selections")
	ErrUnknownPersona   = errors.New("sequence: unknown persona")
	ErrDuplicatePersona = errors.New("sequence: persona selected more than once")
	ErrInvalidOrder     = errors.New("sequence: order must be a positive position")
	ErrDuplicateOrder   = errors.New("sequence: order position used more than once")
)

// Mood is the current disposition of a persona.
type Mood string

const (
	MoodPositive Mood = "positive"
	MoodNeutral  Mood = "neutral"
	MoodStressed Mood = "stressed"
	MoodNegative Mood = "negative"
)

// Multiplier scales a persona's weighted score. Unknown moods are neutral.
func (m Mood) Multiplier() float64 {
	switch m.normalized() {
	case MoodPositive:
		return 1.2
	case MoodStressed:
		return 0.9
	case MoodNegative:
		return 0.8
	default:
		return 1.0
	}
}

func (m Mood) normalized() Mood {
	return Mood(strings.ToLower(strings.TrimSpace(string(m))))
}

// Profile holds the attributes that make a persona worth approaching early.
type Profile struct {
	ID              string
	Name            string
	Influence       int
	Approachability int
	AvailableInfo   []string
	Relationships   []string
	Mood            Mood
}

// Selection is one persona in the trainee's chosen order.
type Selection struct {
	PersonaID string
	Order     int
	Reason    string
}

// Ranked is one entry of the reference order.
type Ranked struct {
	PersonaID string  `json:"personaId"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

// Analysis is the result of comparing a selection order against the reference order.
type Analysis struct {
	SelectionOrder []string `json:"selectionOrder"`
	OptimalOrder   []string `json:"optimalOrder"`
	Ranking        []Ranked `json:"ranking"`
	Correlation    float64  `json:"correlation"`
	OrderScore     int      `json:"orderScore"`
	ReasoningScore int      `json:"reasoningScore"`
	OverallScore   int      `json:"overallScore"`
	Strengths      []string `json:"strengths"`
	Improvements   []string `json:"improvements"`
}

// Score returns the mood-adjusted weighted attribute score of a persona.
func Score(p Profile) float64 {
	base := weightInfluence*clamp(float64(p.Influence), 0, attributeScale)/attributeScale +
		weightApproachability*clamp(float64(p.Approachability), 0, attributeScale)/attributeScale +
		weightInformation*saturate(len(p.AvailableInfo)) +
		weightRelationships*saturate(len(p.Relationships))
	return base * p.Mood.Multiplier()
}

// OptimalOrder ranks profiles by descending score. Ties keep input order.
func OptimalOrder(profiles []Profile) []Ranked {
	ranked := make([]Ranked, len(profiles))
	for i, p := range profiles {
		ranked[i] = Ranked{PersonaID: p.ID, Name: p.Name, Score: Score(p)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// Correlation compares the relative order of the personas in actual against
// their positions in reference. It returns (concordant-discordant)/pairs in
// [-1, 1]. Personas missing from reference are ignored. With a single persona
// the result is 1 when it leads the reference order and 0 otherwise.
func Correlation(actual, reference []string) float64 {
	pos := make(map[string]int, len(reference))
	for i, id := range reference {
		if _, ok := pos[id]; !ok {
			pos[id] = i
		}
	}

	ids := make([]string, 0, len(actual))
	for _, id := range actual {
		if _, ok := pos[id]; ok {
			ids = append(ids, id)
		}
	}

	if len(ids) < 2 {
		if len(ids) == 1 && pos[ids[0]] == 0 {
			return 1
		}
		return 0
	}

	var concordant, discordant int
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if pos[ids[i]] < pos[ids[j]] {
				concordant++
			} else {
				discordant++
			}
		}
	}
	pairs := len(ids) * (len(ids) - 1) / 2
	return float64(concordant-discordant) / float64(pairs)
}

// OrderScore maps a correlation in [-1, 1] onto the 1-5 scale.
func OrderScore(correlation float64) int {
	c := clamp(correlation, -1, 1)
	return clampScore(int(math.Round(minScore + (c+1)/2*(maxScore-minScore))))
}

// Analyze validates selections against profiles and scores the chosen order.
func Analyze(profiles []Profile, selections []Selection) (Analysis, error) {
	if len(profiles) == 0 {
		return Analysis{}, ErrNoProfiles
	}
	byID := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		if _, dup := byID[p.ID]; dup {
			return Analysis{}, fmt.Errorf("%w: %q", ErrDuplicateProfile, p.ID)
		}
		byID[p.ID] = p
	}

	ordered, err := orderSelections(selections, byID)
	if err != nil {
		return Analysis{}, err
	}

	ranking := OptimalOrder(profiles)
	optimal := make([]string, len(ranking))
	for i, r := range ranking {
		optimal[i] = r.PersonaID
	}
	actual := make([]string, len(ordered))
	for i, s := range ordered {
		actual[i] = s.PersonaID
	}

	correlation := Correlation(actual, optimal)
	orderScore := OrderScore(correlation)
	reasoningScore := ReasoningScore(ordered)
	overall := clampScore(int(math.Round(orderWeight*float64(orderScore) + reasoningWeight*float64(reasoningScore))))

	a := Analysis{
		SelectionOrder: actual,
		OptimalOrder:   optimal,
		Ranking:        ranking,
		Correlation:    correlation,
		OrderScore:     orderScore,
		ReasoningScore: reasoningScore,
		OverallScore:   overall,
	}
	a.Strengths, a.Improvements = commentary(a, byID)
	return a, nil
}

func orderSelections(selections []Selection, known map[string]Profile) ([]Selection, error) {
	if len(selections) == 0 {
		return nil, ErrNoSelections
	}
	ordered := make([]Selection, len(selections))
	for i, s := range selections {
		s.PersonaID = strings.TrimSpace(s.PersonaID)
		ordered[i] = s
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	seenPersona := make(map[string]bool, len(ordered))
	seenOrder := make(map[int]bool, len(ordered))
	for _, s := range ordered {
		if s.Order <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidOrder, s.Order)
		}
		if _, ok := known[s.PersonaID]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, s.PersonaID)
		}
		if seenPersona[s.PersonaID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePersona, s.PersonaID)
		}
		if seenOrder[s.Order] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateOrder, s.Order)
		}
		seenPersona[s.PersonaID] = true
		seenOrder[s.Order] = true
	}
	return ordered, nil
}

func saturate(n int) float64 {
	return math.Min(float64(n)/countSaturation, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampScore(n int) int {
	if n < minScore {
		return minScore
	}
	if n > maxScore {
		return maxScore
	}
	return n
}
