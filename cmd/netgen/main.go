package main

import (
	"fmt"
	"os"

	"github.com/roach88/netgen/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand(cli.CalledAsGenerator(os.Args[0]))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
