// Package mcp exposes ingestion and retrieval as Model Context Protocol
// tools over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
)

// Custom MCP error codes.
const (
	ErrCodePartitionUnavailable = -32001
	ErrCodeEmbeddingFailed      = -32002
	ErrCodeTimeout              = -32003
	ErrCodeFileNotFound         = -32004
	ErrCodeFileTooLarge         = -32005
	ErrCodeBusy                 = -32006

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var ragErr *ragerrors.RAGError
	if errors.As(err, &ragErr) {
		return mapRAGError(ragErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapRAGError(re *ragerrors.RAGError) *MCPError {
	message := fmt.Sprintf("%s: %s", re.Code, re.Message)
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s %s", message, re.Suggestion)
	}

	switch re.Code {
	case ragerrors.ErrCodeFileNotFound:
		return &MCPError{Code: ErrCodeFileNotFound, Message: message}
	case ragerrors.ErrCodeFileTooLarge:
		return &MCPError{Code: ErrCodeFileTooLarge, Message: message}
	case ragerrors.ErrCodeRateLimited:
		return &MCPError{Code: ErrCodeBusy, Message: message}
	case ragerrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case ragerrors.ErrCodeProvisioningFailed, ragerrors.ErrCodeSourceUnavailable:
		return &MCPError{Code: ErrCodePartitionUnavailable, Message: message}
	case ragerrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}

	if re.Category == ragerrors.CategoryValidation {
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	}
	return &MCPError{Code: ErrCodeInternalError, Message: message}
}
