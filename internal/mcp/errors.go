package mcp

import (
	"errors"

	"github.com/thebtf/pride-mcp/pkg/models"
)

// JSON-RPC error codes. The -3200x range carries tool error kinds.
const (
	CodeParseError          = -32700
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodeInternalError       = -32603
	CodeToolError           = -32000
	CodeAIDisabled          = -32001
	CodeUpstreamUnavailable = -32002
	CodeUpstreamRejected    = -32003
	CodeNotFound            = -32004
)

// ErrorData is the structured data attached to a tool error.
type ErrorData struct {
	Parameters map[string]any   `json:"parameters,omitempty"`
	Kind       models.ErrorKind `json:"kind"`
	Message    string           `json:"message"`
}

// CodeForKind maps an error kind to its JSON-RPC code.
func CodeForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return CodeInvalidParams
	case models.KindAIDisabled:
		return CodeAIDisabled
	case models.KindUpstreamUnavailable:
		return CodeUpstreamUnavailable
	case models.KindUpstreamRejected:
		return CodeUpstreamRejected
	case models.KindNotFound:
		return CodeNotFound
	default:
		return CodeToolError
	}
}

var kindMessages = map[models.ErrorKind]string{
	models.KindValidation:          "Invalid params",
	models.KindAIDisabled:          "AI analysis disabled",
	models.KindUpstreamUnavailable: "Upstream unavailable",
	models.KindUpstreamRejected:    "Upstream rejected request",
	models.KindNotFound:            "Not found",
}

// toolError converts a tool failure into a JSON-RPC error.
func toolError(err error) *Error {
	kind := models.KindOf(err)
	message, ok := kindMessages[kind]
	if !ok {
		message = "Tool error"
	}
	return &Error{
		Code:    CodeForKind(kind),
		Message: message,
		Data: ErrorData{
			Kind:       kind,
			Message:    messageOf(err),
			Parameters: models.ParametersOf(err),
		},
	}
}

// messageOf returns the error text without the kind prefix.
func messageOf(err error) string {
	var e *models.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}
