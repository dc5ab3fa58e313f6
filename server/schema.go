package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var schemaDrop bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the postgres tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if a.ephemeral {
			return errors.New("schema requires database_url to be set")
		}

		if schemaDrop {
			if err := a.store.DropSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("schema dropped")
			return nil
		}
		if err := a.store.CreateSchema(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("schema created")
		return nil
	},
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaDrop, "drop", false, "drop the tables instead of creating them")
	rootCmd.AddCommand(schemaCmd)
}
