package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"roleplay-coach/internal/catalog"
)

func newRootCommand() *cobra.Command {
	var scenariosFlag string

	rootCmd := &cobra.Command{
		Use:           "seqscore",
		Short:         "Score stakeholder approach orders",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&scenariosFlag, "scenarios", "", "Scenario YAML file (defaults to the built-in set)")

	load := func() (*catalog.Catalog, error) {
		return catalog.Load(scenariosFlag)
	}
	rootCmd.AddCommand(newScoreCommand(load))
	rootCmd.AddCommand(newScenariosCommand(load))
	return rootCmd
}

type catalogLoader func() (*catalog.Catalog, error)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
