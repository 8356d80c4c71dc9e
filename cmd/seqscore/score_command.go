package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"roleplay-coach/internal/sequence"
)

func newScoreCommand(load catalogLoader) *cobra.Command {
	var (
		scenarioID string
		order      string
		reasons    []string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score an approach order for a scenario",
		Example: `  seqscore score --scenario launch-delay --order lee-product,kim-cto \
    --reason lee-product="She owns the roadmap decision"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}
			profiles, err := c.Profiles(scenarioID)
			if err != nil {
				return err
			}
			selections, err := parseSelections(order, reasons)
			if err != nil {
				return err
			}
			analysis, err := sequence.Analyze(profiles, selections)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, analysis)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderAnalysis(analysis))
			return nil
		},
	}
	cmd.Flags().StringVar(&scenarioID, "scenario", "", "Scenario id")
	cmd.Flags().StringVar(&order, "order", "", "Comma-separated persona ids in the order you would approach them")
	cmd.Flags().StringArrayVar(&reasons, "reason", nil, "Reason for a choice as persona=text (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the analysis as JSON")
	_ = cmd.MarkFlagRequired("scenario")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func parseSelections(order string, reasons []string) ([]sequence.Selection, error) {
	byPersona := make(map[string]string, len(reasons))
	for _, r := range reasons {
		id, text, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("invalid --reason %q: expected persona=text", r)
		}
		byPersona[strings.TrimSpace(id)] = strings.TrimSpace(text)
	}

	var selections []sequence.Selection
	for _, id := range strings.Split(order, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		selections = append(selections, sequence.Selection{
			PersonaID: id,
			Order:     len(selections) + 1,
			Reason:    byPersona[id],
		})
	}
	if len(selections) == 0 {
		return nil, errors.New("--order must name at least one persona")
	}
	for id := range byPersona {
		if !containsPersona(selections, id) {
			return nil, fmt.Errorf("--reason given for %q, which is not in --order", id)
		}
	}
	return selections, nil
}

func containsPersona(selections []sequence.Selection, id string) bool {
	for _, s := range selections {
		if s.PersonaID == id {
			return true
		}
	}
	return false
}

func renderAnalysis(a sequence.Analysis) string {
	var b strings.Builder
	b.WriteString(renderRanking(a))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Correlation:     %+.2f\n", a.Correlation)
	fmt.Fprintf(&b, "Order score:     %d/5\n", a.OrderScore)
	fmt.Fprintf(&b, "Reasoning score: %d/5\n", a.ReasoningScore)
	fmt.Fprintf(&b, "Overall score:   %d/5\n", a.OverallScore)
	writeList(&b, "Strengths", a.Strengths)
	writeList(&b, "Improvements", a.Improvements)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}
