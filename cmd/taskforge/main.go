// Package main provides the CLI entry point for taskforge.
package main

import (
	"fmt"
	"os"

	"github.com/taskforge/taskforge/internal/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
