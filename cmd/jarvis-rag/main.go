// Package main provides the entry point for the jarvis-rag CLI.
package main

import (
	"os"

	"github.com/bg073/jarvis-rag/cmd/jarvis-rag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
