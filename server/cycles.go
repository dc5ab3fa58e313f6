package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var cyclesCmd = &cobra.Command{
	Use:   "cycles [build]",
	Short: "Report dependency cycles, across all tasks or within one build",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.seedIfEphemeral(cmd.Context()); err != nil {
			return err
		}

		var cycles [][]string
		if len(args) == 1 {
			cycles, err = a.svc.BuildCycles(cmd.Context(), args[0])
		} else {
			cycles, err = a.svc.Cycles(cmd.Context())
		}
		if err != nil {
			return err
		}

		if len(cycles) == 0 {
			fmt.Println("no cycles")
			return nil
		}
		for _, cycle := range cycles {
			fmt.Println(strings.Join(cycle, " -> "))
		}
		return fmt.Errorf("%d cycle(s) found", len(cycles))
	},
}

func init() {
	rootCmd.AddCommand(cyclesCmd)
}
