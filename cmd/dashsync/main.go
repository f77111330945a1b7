package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fr4iser90/dashsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
