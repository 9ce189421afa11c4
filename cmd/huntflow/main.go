// Command huntflow runs, checks and tests huntflows.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/huntflow/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		if !cli.WasReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
