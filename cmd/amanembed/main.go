// Package main provides the entry point for the amanembed CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amanembed/cmd/amanembed/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
