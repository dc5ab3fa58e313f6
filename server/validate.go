package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <build>",
	Short: "Check that every task a build references exists",
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

		missing, err := a.svc.ValidateBuild(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("build %s is missing tasks: %s", args[0], strings.Join(missing, ", "))
		}
		fmt.Printf("build %s is valid\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
