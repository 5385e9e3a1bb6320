// Package configs embeds the configuration template written by
// `jarvis-rag init`.
//
// Precedence, lowest first (see internal/config Load):
//  1. Hardcoded defaults
//  2. jarvis-rag.yaml
//  3. .env in the working directory
//  4. Environment variables
package configs

import _ "embed"

// ConfigTemplate is a commented jarvis-rag.yaml listing every key with
// its default value.
//
//go:embed jarvis-rag.example.yaml
var ConfigTemplate string
