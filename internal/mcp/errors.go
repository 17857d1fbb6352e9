// Package mcp exposes retrieval fusion as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// MCP error codes.
const (
	// ErrCodeAllSourcesFailed means no retrieval source answered.
	ErrCodeAllSourcesFailed = -32001
	// ErrCodeSourceUnavailable means a collaborator needed for the call is down.
	ErrCodeSourceUnavailable = -32002
	// ErrCodeTimeout means the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a protocol error with a code and a client-facing message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-params error.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts an internal error to an MCPError. Messages carry the
// internal error code so clients can branch on it.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var fe *amerrors.FusionError
	if !errors.As(err, &fe) {
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}

	message := fmt.Sprintf("[%s] %s", fe.Code, fe.Message)
	switch {
	case fe.Code == amerrors.ErrCodeAllSourcesFailed:
		return &MCPError{Code: ErrCodeAllSourcesFailed, Message: message}
	case fe.Category == amerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case fe.Category == amerrors.CategorySource:
		return &MCPError{Code: ErrCodeSourceUnavailable, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
