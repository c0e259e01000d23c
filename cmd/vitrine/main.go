// Package main provides the entry point for the vitrine CLI.
package main

import (
	"os"

	"github.com/vitrine-search/vitrine/cmd/vitrine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
