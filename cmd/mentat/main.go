// Command mentat inspects and evolves the vocabularies of a mentat store.
package main

import (
	"fmt"
	"os"

	"github.com/qpdb/mentat/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
