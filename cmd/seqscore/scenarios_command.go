package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type scenarioListing struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Personas []string `json:"personas"`
}

func newScenariosCommand(load catalogLoader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List scenarios and their personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}
			list := c.List()
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), renderScenarios(list))
				return nil
			}
			out := make([]scenarioListing, 0, len(list))
			for _, s := range list {
				ids := make([]string, 0, len(s.Personas))
				for _, p := range s.Personas {
					ids = append(ids, p.ID)
				}
				out = append(out, scenarioListing{ID: s.ID, Title: s.Title, Personas: ids})
			}
			return writeJSON(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print scenarios as JSON")
	return cmd
}
