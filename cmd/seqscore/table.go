package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"roleplay-coach/internal/domain"
	"roleplay-coach/internal/sequence"
)

func newTableWriter(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

// renderRanking lists the reference order next to the position the trainee
// chose. Personas the trainee skipped show "-" and rows where the two orders
// agree are marked.
func renderRanking(a sequence.Analysis) string {
	position := make(map[string]int, len(a.SelectionOrder))
	for i, id := range a.SelectionOrder {
		position[id] = i + 1
	}

	tw := newTableWriter("Reference order")
	tw.AppendHeader(table.Row{"Rank", "Persona", "Name", "Score", "Your order", ""})
	for _, r := range a.Ranking {
		yours, match := "-", ""
		if p, ok := position[r.PersonaID]; ok {
			yours = strconv.Itoa(p)
			if p == r.Rank {
				match = "="
			}
		}
		tw.AppendRow(table.Row{r.Rank, r.PersonaID, r.Name, r.Score, yours, match})
	}
	tw.AppendFooter(table.Row{"", "", "", "Overall", fmt.Sprintf("%d/5", a.OverallScore), ""})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight, Transformer: func(v any) string {
			if f, ok := v.(float64); ok {
				return strconv.FormatFloat(f, 'f', 3, 64)
			}
			return fmt.Sprint(v)
		}},
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	return tw.Render()
}

func renderScenarios(list []domain.Scenario) string {
	tw := newTableWriter("")
	tw.AppendHeader(table.Row{"ID", "Title", "Difficulty", "Max turns", "Personas"})
	for _, s := range list {
		names := make([]string, 0, len(s.Personas))
		for _, p := range s.Personas {
			names = append(names, p.ID)
		}
		tw.AppendRow(table.Row{s.ID, s.Title, s.Difficulty, s.MaxTurns, strings.Join(names, ", ")})
	}
	tw.SortBy([]table.SortBy{{Name: "ID", Mode: table.Asc}})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: 60},
	})
	return tw.Render()
}
