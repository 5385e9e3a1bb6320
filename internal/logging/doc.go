// Package logging configures the process-wide slog logger.
//
// Logs are JSON by default. An interactive terminal gets the text handler
// unless a format is forced. File logging goes through a size-rotating
// writer under ~/.jarvis-rag/logs/. MCP stdio mode never writes to stderr
// or stdout.
package logging
