// Package mcp holds the MCP (Model Context Protocol) wire types: JSON-RPC 2.0
// envelopes, the error-code taxonomy with its HTTP mapping, tools, schemas,
// and content blocks.
// https://modelcontextprotocol.io/specification
package mcp

import (
	"encoding/json"
	"net/http"
)

const JSONRPCVersion = "2.0"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application-range error codes (stable; callers match on these)
const (
	CodeToolNotFound        = -32001
	CodeToolTimeout         = -32002
	CodeParameterValidation = -32003
	CodeToolExecution       = -32004
)

// HTTPStatusForCode maps a JSON-RPC error code to the HTTP status the
// transport responds with.
func HTTPStatusForCode(code int) int {
	switch code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams, CodeParameterValidation:
		return http.StatusBadRequest
	case CodeMethodNotFound, CodeToolNotFound:
		return http.StatusNotFound
	case CodeToolTimeout:
		return http.StatusRequestTimeout
	case CodeInternalError, CodeToolExecution:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RequestID is a JSON-RPC request id: string | number | null.
type RequestID any

// Core JSON-RPC types
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore must
// not receive a JSON-RPC response.
func (r *JSONRPCRequest) IsNotification() bool { return r.ID == nil }

type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      RequestID `json:"id"`
	Result  any       `json:"result"`
}

type JSONRPCError struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      RequestID   `json:"id"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewResponse builds a success envelope for the given request id.
func NewResponse(id RequestID, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewError builds an error envelope for the given request id.
func NewError(id RequestID, code int, message string) *JSONRPCError {
	return &JSONRPCError{JSONRPC: JSONRPCVersion, ID: id, Error: ErrorDetail{Code: code, Message: message}}
}

// PropertySchema is the JSON Schema fragment for a single tool parameter.
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// JSONSchema is the input schema advertised for a tool: always an object
// schema that rejects undeclared properties.
type JSONSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]PropertySchema `json:"properties"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

// Tool is the wire form of a registered tool as returned by tools/list.
type Tool struct {
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	InputSchema JSONSchema `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}
