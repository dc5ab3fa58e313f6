package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/buildgraph/config"
)

var loadCmd = &cobra.Command{
	Use:   "load [dir]",
	Short: "Load task and build definition files into the store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			a.settings.ConfigDir = args[0]
		}

		loader := config.NewOsLoader()
		tasks, err := loader.LoadTasks(a.settings.TasksPath())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		builds, err := loader.LoadBuilds(a.settings.BuildsPath())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if len(tasks) == 0 && len(builds) == 0 {
			return fmt.Errorf("no definitions found in %s", a.settings.ConfigDir)
		}

		nTasks, nBuilds, err := a.svc.ApplyDefinitions(cmd.Context(), tasks, builds)
		if err != nil {
			return err
		}
		fmt.Printf("applied %d tasks and %d builds from %s\n", nTasks, nBuilds, a.settings.ConfigDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
