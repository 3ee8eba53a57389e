// Package main provides the entry point for the relindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/relindex/cmd/relindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
