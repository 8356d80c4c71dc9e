package sequence

import "fmt"

const (
	strongCorrelation  = 0.7
	weakCorrelation    = 0.3
	lowApproachability = 3
)

func commentary(a Analysis, byID map[string]Profile) (strengths, improvements []string) {
	strengths = []string{}
	improvements = []string{}

	top := byID[a.OptimalOrder[0]]
	first := byID[a.SelectionOrder[0]]
	selected := make(map[string]bool, len(a.SelectionOrder))
	for _, id := range a.SelectionOrder {
		selected[id] = true
	}

	if len(a.SelectionOrder) > 1 {
		switch {
		case a.Correlation >= strongCorrelation:
			strengths = append(strengths, "Your conversation order closely follows an effective stakeholder sequence.")
		case a.Correlation < weakCorrelation:
			improvements = append(improvements, "Your conversation order differs substantially from an effective sequence. Plan who can unblock the others before you start.")
		}
	}

	switch {
	case first.ID == top.ID:
		strengths = append(strengths, fmt.Sprintf("You started with %s, the stakeholder with the most leverage in this situation.", displayName(top)))
	case !selected[top.ID]:
		improvements = append(improvements, fmt.Sprintf("You never approached %s, the most strategically valuable stakeholder.", displayName(top)))
	default:
		improvements = append(improvements, fmt.Sprintf("Consider speaking with %s earlier: they combine influence with access to key information.", displayName(top)))
	}

	if first.ID != top.ID && first.Approachability <= lowApproachability {
		improvements = append(improvements, fmt.Sprintf("Opening with %s, who is hard to approach, risks stalling early. Build momentum with more approachable colleagues first.", displayName(first)))
	}
	if first.ID != top.ID {
		switch first.Mood.normalized() {
		case MoodNegative, MoodStressed:
			improvements = append(improvements, fmt.Sprintf("%s is under pressure right now. Approach them once you have something useful to offer.", displayName(first)))
		}
	}

	if len(a.SelectionOrder) == len(a.OptimalOrder) && len(a.OptimalOrder) > 1 {
		strengths = append(strengths, "You planned to speak with every stakeholder in the scenario.")
	}

	switch {
	case a.ReasoningScore >= 4:
		strengths = append(strengths, "Your reasons for each choice were specific and strategic.")
	case a.ReasoningScore <= 2:
		improvements = append(improvements, "Explain why you chose each stakeholder, referring to their influence, the information they hold and who they work with.")
	}

	if len(strengths) == 0 {
		strengths = append(strengths, "You committed to a concrete conversation plan.")
	}
	return strengths, improvements
}

func displayName(p Profile) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
