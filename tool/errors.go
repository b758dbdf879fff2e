package tool

import (
	"fmt"

	"github.com/wingie/webagent/mcp"
)

// ErrorKind classifies a tool-layer failure; the dispatcher maps each kind to
// a JSON-RPC code and HTTP status.
type ErrorKind int

const (
	ErrorToolNotFound ErrorKind = iota + 1
	ErrorParameterValidation
	ErrorToolTimeout
	ErrorToolExecution
	ErrorInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorToolNotFound:
		return "ToolNotFound"
	case ErrorParameterValidation:
		return "ParameterValidation"
	case ErrorToolTimeout:
		return "ToolTimeout"
	case ErrorToolExecution:
		return "ToolExecution"
	default:
		return "Internal"
	}
}

// JSONRPCCode returns the stable application-range (or standard) code for k.
func (k ErrorKind) JSONRPCCode() int {
	switch k {
	case ErrorToolNotFound:
		return mcp.CodeToolNotFound
	case ErrorParameterValidation:
		return mcp.CodeParameterValidation
	case ErrorToolTimeout:
		return mcp.CodeToolTimeout
	case ErrorToolExecution:
		return mcp.CodeToolExecution
	default:
		return mcp.CodeInternalError
	}
}

// Error is the tagged failure returned by the registry, mapper, and
// invocation layers. ToolName and ParameterName are set when known.
type Error struct {
	Kind          ErrorKind
	ToolName      string
	ParameterName string
	Message       string
	Cause         error
}

func (e *Error) Error() string {
	switch {
	case e.ParameterName != "":
		return fmt.Sprintf("%s: parameter '%s': %s", e.Kind, e.ParameterName, e.Message)
	case e.ToolName != "":
		return fmt.Sprintf("%s: tool '%s': %s", e.Kind, e.ToolName, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewNotFoundError reports that no tool with the given name is registered.
func NewNotFoundError(toolName string) *Error {
	return &Error{Kind: ErrorToolNotFound, ToolName: toolName, Message: fmt.Sprintf("Tool not found: %s", toolName)}
}

// NewParameterError reports a mapping/validation failure for one parameter.
func NewParameterError(toolName, paramName, messageFmt string, a ...any) *Error {
	return &Error{Kind: ErrorParameterValidation, ToolName: toolName, ParameterName: paramName, Message: fmt.Sprintf(messageFmt, a...)}
}

// NewTimeoutError reports that a tool invocation exceeded its timeout. The
// message embeds the original timeout as "<n>ms" so callers can parse it back.
func NewTimeoutError(toolName string, timeoutMs int64) *Error {
	return &Error{Kind: ErrorToolTimeout, ToolName: toolName, Message: fmt.Sprintf("Tool '%s' timed out after %dms", toolName, timeoutMs)}
}

// NewExecutionError wraps a handler failure.
func NewExecutionError(toolName string, cause error) *Error {
	return &Error{Kind: ErrorToolExecution, ToolName: toolName, Message: fmt.Sprintf("Tool execution failed: %s", cause), Cause: cause}
}
