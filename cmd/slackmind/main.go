// Command slackmind runs the chat bot service and its operator tools.
package main

import (
	"fmt"
	"os"

	"slackmind/internal/cli"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
