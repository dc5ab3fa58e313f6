package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/buildgraph"
	"github.com/meikuraledutech/buildgraph/service"
)

var (
	sortAlgorithm string
	sortNoCache   bool
	sortJSON      bool
)

var sortCmd = &cobra.Command{
	Use:   "sort <build>",
	Short: "Resolve a build into dependency order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.seedIfEphemeral(cmd.Context()); err != nil {
			return err
		}

		opts := service.ResolveOptions{NoCache: sortNoCache}
		switch sortAlgorithm {
		case "", string(buildgraph.AlgorithmKahn):
			opts.Algorithm = buildgraph.AlgorithmKahn
		case string(buildgraph.AlgorithmDFS):
			opts.Algorithm = buildgraph.AlgorithmDFS
		default:
			return fmt.Errorf("unknown algorithm %q", sortAlgorithm)
		}

		result, err := a.svc.Resolve(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}

		if sortJSON {
			return printJSON(result)
		}
		for i, name := range result.Tasks {
			fmt.Printf("%3d  %s\n", i+1, name)
		}
		fmt.Printf("%d tasks via %s in %.3fms\n", len(result.Tasks), result.Algorithm, result.ElapsedMS)
		return nil
	},
}

func init() {
	sortCmd.Flags().StringVar(&sortAlgorithm, "algorithm", "kahn", "ordering algorithm: kahn or dfs")
	sortCmd.Flags().BoolVar(&sortNoCache, "no-cache", false, "skip the result cache")
	sortCmd.Flags().BoolVar(&sortJSON, "json", false, "print the full result as JSON")
	rootCmd.AddCommand(sortCmd)
}
