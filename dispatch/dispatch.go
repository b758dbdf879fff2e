// Package dispatch implements the JSON-RPC 2.0 surface over the tool
// registry: envelope validation, the tools/list and tools/call methods, the
// error taxonomy with its HTTP status mapping, and per-call timeout
// enforcement. Async tools are handed to the task executor and answered
// immediately with a task id.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wingie/webagent/internal/aids"
	"github.com/wingie/webagent/mcp"
	"github.com/wingie/webagent/task"
	"github.com/wingie/webagent/tool"
)

// Config wires the dispatcher. Registry is required; Executor may be nil when
// async execution is disabled (async tools then run inline).
type Config struct {
	Registry   *tool.Registry
	Serializer tool.Serializer

	Executor     *task.Executor
	AsyncEnabled bool

	// DefaultTimeoutMs bounds inline calls whose descriptor declares no
	// timeout of its own.
	DefaultTimeoutMs int64

	// ExecutionLogger, when non-nil, gets one line per tools/call.
	ExecutionLogger *slog.Logger

	// PerformanceLogger, when non-nil, gets call durations.
	PerformanceLogger *slog.Logger
}

type Dispatcher struct {
	config Config
}

func NewDispatcher(config Config) *Dispatcher {
	aids.Assert(config.Registry != nil, "Config.Registry is required")
	if config.DefaultTimeoutMs <= 0 {
		config.DefaultTimeoutMs = 10_000
	}
	return &Dispatcher{config: config}
}

// Reply is the HTTP rendering of one dispatched request: the status code and
// the envelope to serialise (nil for notifications, which get no body).
type Reply struct {
	Status int
	Body   any
}

// DispatchRaw parses body as a JSON-RPC request and dispatches it. Unparsable
// bodies get PARSE_ERROR with a null id.
func (d *Dispatcher) DispatchRaw(ctx context.Context, body []byte) Reply {
	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errorReply(mcp.NewError(nil, mcp.CodeParseError, "Parse error: "+err.Error()))
	}
	return d.Dispatch(ctx, &req)
}

// Dispatch validates the envelope and routes to the method table. Requests
// carrying an id always get exactly one response envelope; notifications get
// none regardless of outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req *mcp.JSONRPCRequest) Reply {
	if verr := validateEnvelope(req); verr != nil {
		return d.reply(req, nil, verr)
	}

	switch req.Method {
	case "tools/list":
		return d.reply(req, d.ListTools(), nil)
	case "tools/call":
		result, rpcErr := d.callTool(ctx, req)
		return d.reply(req, result, rpcErr)
	default:
		return d.reply(req, nil, mcp.NewError(req.ID, mcp.CodeMethodNotFound, "Method not found: "+req.Method))
	}
}

// reply renders one outcome, suppressing the body for notifications.
func (d *Dispatcher) reply(req *mcp.JSONRPCRequest, result any, rpcErr *mcp.JSONRPCError) Reply {
	if req.IsNotification() {
		return Reply{Status: http.StatusNoContent}
	}
	if rpcErr != nil {
		return errorReply(rpcErr)
	}
	return Reply{Status: http.StatusOK, Body: mcp.NewResponse(req.ID, result)}
}

func errorReply(rpcErr *mcp.JSONRPCError) Reply {
	return Reply{Status: mcp.HTTPStatusForCode(rpcErr.Error.Code), Body: rpcErr}
}

// validateEnvelope enforces the JSON-RPC 2.0 shape: version "2.0", a
// non-empty method, and an id that is a string, number, or null.
func validateEnvelope(req *mcp.JSONRPCRequest) *mcp.JSONRPCError {
	if req.JSONRPC != mcp.JSONRPCVersion {
		return mcp.NewError(req.ID, mcp.CodeInvalidRequest, fmt.Sprintf("Invalid Request: jsonrpc must be %q", mcp.JSONRPCVersion))
	}
	if strings.TrimSpace(req.Method) == "" {
		return mcp.NewError(req.ID, mcp.CodeInvalidRequest, "Invalid Request: method is required")
	}
	switch req.ID.(type) {
	case nil, string, float64, int, int64, json.Number:
		return nil
	default:
		return mcp.NewError(nil, mcp.CodeInvalidRequest, "Invalid Request: id must be a string, number, or null")
	}
}

// ListTools returns the wire view of every enabled tool, in registration
// order. Disabled tools are omitted entirely.
func (d *Dispatcher) ListTools() mcp.ListToolsResult {
	descriptors := d.config.Registry.List()
	tools := make([]mcp.Tool, 0, len(descriptors))
	for _, desc := range descriptors {
		if !desc.Enabled {
			continue
		}
		t := mcp.Tool{Name: desc.Name, InputSchema: desc.InputSchema}
		if desc.Description != "" {
			t.Description = aids.New(desc.Description)
		}
		tools = append(tools, t)
	}
	return mcp.ListToolsResult{Tools: tools}
}

// callTool resolves, maps, and invokes one tool. Disabled tools are
// indistinguishable from unregistered ones.
func (d *Dispatcher) callTool(ctx context.Context, req *mcp.JSONRPCRequest) (any, *mcp.JSONRPCError) {
	var params mcp.CallToolParams
	if len(req.Params) == 0 {
		return nil, mcp.NewError(req.ID, mcp.CodeInvalidParams, "Invalid params: params object is required")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcp.NewError(req.ID, mcp.CodeInvalidParams, "Invalid params: "+err.Error())
	}
	if params.Name == "" {
		return nil, mcp.NewError(req.ID, mcp.CodeInvalidParams, "Invalid params: tool name is required")
	}

	desc := d.config.Registry.Lookup(params.Name)
	if desc == nil || !desc.Enabled {
		return nil, toolError(req.ID, tool.NewNotFoundError(params.Name))
	}

	args, merr := tool.MapArguments(desc, params.Arguments)
	if merr != nil {
		return nil, toolError(req.ID, merr)
	}

	if desc.Async && d.config.AsyncEnabled && d.config.Executor != nil {
		return d.submitAsync(ctx, req.ID, desc, args, params.Arguments)
	}
	return d.invoke(ctx, req.ID, desc, args)
}

// invoke runs the tool handler inline under the call timeout. The handler
// goroutine is abandoned at the deadline; its context is cancelled so a
// cooperative handler unwinds promptly.
func (d *Dispatcher) invoke(ctx context.Context, id mcp.RequestID, desc *tool.Descriptor, args tool.Args) (any, *mcp.JSONRPCError) {
	timeoutMs := desc.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = d.config.DefaultTimeoutMs
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	handler := d.config.Registry.HandlerFor(desc.Name)
	start := time.Now()
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", v)}
			}
		}()
		value, err := handler(callCtx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		d.logCall(ctx, desc.Name, time.Since(start), out.err)
		if out.err != nil {
			return nil, toolError(id, d.classify(desc, timeoutMs, out.err))
		}
		return d.config.Serializer.Result(desc.Name, out.value), nil
	case <-callCtx.Done():
		d.logCall(ctx, desc.Name, time.Since(start), callCtx.Err())
		return nil, toolError(id, tool.NewTimeoutError(desc.Name, timeoutMs))
	}
}

// submitAsync queues the call as a task and answers with its id. The task's
// query is the single string argument when the tool has one, otherwise the
// JSON form of the raw arguments.
func (d *Dispatcher) submitAsync(ctx context.Context, id mcp.RequestID, desc *tool.Descriptor, args tool.Args, raw map[string]any) (any, *mcp.JSONRPCError) {
	query := ""
	if len(desc.Params) == 1 && desc.Params[0].Type == tool.ParamTypeString {
		query = args.String(0)
	} else {
		query = string(aids.MustMarshal(raw))
	}
	taskType := desc.TaskType
	if taskType == "" {
		taskType = desc.Name
	}
	opts := task.SubmitOptions{}
	if desc.TimeoutMs > 0 {
		opts.TimeoutSeconds = max(1, int(desc.TimeoutMs/1000))
	}
	taskID, err := d.config.Executor.Submit(ctx, taskType, query, opts)
	if err != nil {
		return nil, mcp.NewError(id, mcp.CodeInternalError, "Task submission failed: "+err.Error())
	}
	envelope := aids.MustMarshal(map[string]string{"taskId": taskID, "status": string(task.StatusQueued)})
	return mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.NewTextContent(string(envelope))}}, nil
}

// classify tags a handler error: already-tagged errors keep their kind,
// deadline errors become TOOL_TIMEOUT, everything else TOOL_EXECUTION.
func (d *Dispatcher) classify(desc *tool.Descriptor, timeoutMs int64, err error) *tool.Error {
	var terr *tool.Error
	if errors.As(err, &terr) {
		return terr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return tool.NewTimeoutError(desc.Name, timeoutMs)
	}
	return tool.NewExecutionError(desc.Name, err)
}

func toolError(id mcp.RequestID, terr *tool.Error) *mcp.JSONRPCError {
	return mcp.NewError(id, terr.Kind.JSONRPCCode(), terr.Message)
}

func (d *Dispatcher) logCall(ctx context.Context, toolName string, elapsed time.Duration, err error) {
	if l := d.config.ExecutionLogger; l != nil {
		attrs := []slog.Attr{slog.String("tool", toolName), slog.Int64("durationMs", elapsed.Milliseconds())}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		l.LogAttrs(ctx, slog.LevelInfo, "Tool call", attrs...)
	}
	if l := d.config.PerformanceLogger; l != nil {
		l.LogAttrs(ctx, slog.LevelDebug, "Tool call timing",
			slog.String("tool", toolName), slog.Duration("elapsed", elapsed))
	}
}
