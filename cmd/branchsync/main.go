// Command branchsync synchronizes and merges work branches into a target branch.
package main

import (
	"fmt"
	"os"

	"branchsync/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
