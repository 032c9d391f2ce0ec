// Package main provides the entry point for the corpora CLI.
package main

import (
	"os"

	"github.com/corpora-ai/corpora/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
