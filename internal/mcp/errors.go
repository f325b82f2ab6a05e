// Package mcp serves the embedding index over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeNotReady indicates the kernel is in the error phase.
	ErrCodeNotReady = -32001

	// ErrCodeEmbeddingFailed indicates the provider could not embed the query.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeNotFound indicates an unknown entity or resource.
	ErrCodeNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound indicates the requested tool does not exist.
var ErrToolNotFound = errors.New("tool not found")

// MCPError is a protocol error with a JSON-RPC code. Data carries the
// structured error document for failures raised inside the index.
type MCPError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface. Tool errors reach clients as text,
// so the structured document follows the message on its own line.
func (e *MCPError) Error() string {
	msg := fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
	if len(e.Data) == 0 {
		return msg
	}
	return msg + "\n" + string(e.Data)
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
	if ae, ok := amanerrors.As(err); ok {
		return mapAmanError(ae)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

func mapAmanError(ae *amanerrors.AmanError) *MCPError {
	e := mapAmanCode(ae)
	if raw, err := amanerrors.FormatJSON(ae); err == nil {
		e.Data = raw
	}
	return e
}

func mapAmanCode(ae *amanerrors.AmanError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}

	switch ae.Category {
	case amanerrors.CategoryValidation:
		if ae.Code == amanerrors.ErrCodeInvalidInput || ae.Code == amanerrors.ErrCodeQueryEmpty {
			return &MCPError{Code: ErrCodeInvalidParams, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	case amanerrors.CategoryProvider:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case amanerrors.CategoryRun:
		return &MCPError{Code: ErrCodeNotReady, Message: message}
	case amanerrors.CategoryIO:
		if ae.Code == amanerrors.ErrCodeFileNotFound {
			return &MCPError{Code: ErrCodeNotFound, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
