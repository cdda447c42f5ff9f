// Command sqlext compiles, validates and runs SQL extension declarations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sqlext/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
