// Command blockflow compiles, validates, tests and runs block flows.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/blockflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
