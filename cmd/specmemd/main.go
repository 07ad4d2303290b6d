// Package main provides the entry point for the specmemd CLI.
package main

import (
	"os"

	"github.com/specmem/specmem/cmd/specmemd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
