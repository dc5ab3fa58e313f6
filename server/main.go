// Command buildgraph serves the task and build API and offers one-shot
// subcommands for loading definitions, sorting builds and inspecting
// cycles.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
