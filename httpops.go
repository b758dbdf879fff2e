package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wingie/webagent/cache"
	"github.com/wingie/webagent/config"
	"github.com/wingie/webagent/dispatch"
	"github.com/wingie/webagent/internal/aids"
	"github.com/wingie/webagent/mcp"
	"github.com/wingie/webagent/pubsub"
	"github.com/wingie/webagent/svrcore"
	"github.com/wingie/webagent/task"
	"github.com/wingie/webagent/tool"
)

// httpOps wraps the runtime's collaborators with the HTTP operations served
// by the route table: behavior wrapping state.
type httpOps struct {
	errorLogger  *slog.Logger
	config       *config.Config
	registry     *tool.Registry
	dispatcher   *dispatch.Dispatcher
	executor     *task.Executor
	broker       pubsub.Broker
	descriptions cache.Descriptions
}

// maxRequestBodyBytes bounds every bodied route; tool arguments and task
// submissions are small JSON documents.
const maxRequestBodyBytes = 1 << 20 // 1MB

func (ops *httpOps) routes() svrcore.Routes {
	jsonBody := &svrcore.ValidHeader{MaxContentLength: maxRequestBodyBytes, ContentTypes: []string{"application/json"}}
	return svrcore.Routes{
		"/v1": {
			"POST": {Policy: ops.postJSONRPC, ValidHeader: jsonBody},
		},
		"/v1/tools": {
			"GET": {Policy: ops.getTools},
		},
		"/v1/tools/call": {
			"POST": {Policy: ops.postToolCall, ValidHeader: jsonBody},
		},
		"/v1/health": {
			"GET": {Policy: ops.getHealth},
		},
		"/v1/metrics": {
			"GET": {Policy: ops.getMetrics},
		},
		"/tasks": {
			"POST": {Policy: ops.postTask, ValidHeader: jsonBody},
		},
		"/tasks/{taskId}": {
			"GET": {Policy: ops.getTask},
		},
		"/tasks/{taskId}/cancel": {
			"POST": {Policy: ops.postTaskCancel},
		},
		"/tasks/{taskId}/progress": {
			"GET": {Policy: ops.getTaskProgress},
		},
	}
}

// writeReply renders a dispatcher reply. Notifications carry no body.
func writeReply(r *svrcore.ReqRes, reply dispatch.Reply) bool {
	if reply.Body == nil {
		return r.WriteSuccess(reply.Status, nil, nil, nil)
	}
	return r.WriteSuccess(reply.Status, nil, nil, reply.Body)
}

// postJSONRPC serves the JSON-RPC 2.0 endpoint. The raw body goes to the
// dispatcher so malformed JSON becomes a -32700 envelope rather than the
// plain REST error shape.
func (ops *httpOps) postJSONRPC(ctx context.Context, r *svrcore.ReqRes) bool {
	if !ops.registry.Initialized() {
		return r.WriteError(http.StatusServiceUnavailable, nil, nil, "ServiceUnavailable", "Tool registry is initializing")
	}
	body, err := io.ReadAll(r.R.Body)
	defer r.R.Body.Close()
	if aids.IsError(err) {
		return r.WriteError(http.StatusBadRequest, nil, nil, "UnreadableBody", "%s", err.Error())
	}
	return writeReply(r, ops.dispatcher.DispatchRaw(ctx, body))
}

// postToolCall is the legacy direct-call shim: {name, arguments} wrapped into
// a tools/call request so both surfaces share one code path.
func (ops *httpOps) postToolCall(ctx context.Context, r *svrcore.ReqRes) bool {
	if !ops.registry.Initialized() {
		return r.WriteError(http.StatusServiceUnavailable, nil, nil, "ServiceUnavailable", "Tool registry is initializing")
	}
	var params mcp.CallToolParams
	if r.UnmarshalBody(&params) {
		return true
	}
	req := &mcp.JSONRPCRequest{JSONRPC: mcp.JSONRPCVersion, ID: 1, Method: "tools/call", Params: aids.MustMarshal(params)}
	return writeReply(r, ops.dispatcher.Dispatch(ctx, req))
}

func (ops *httpOps) getTools(ctx context.Context, r *svrcore.ReqRes) bool {
	if !ops.registry.Initialized() {
		return r.WriteError(http.StatusServiceUnavailable, nil, nil, "ServiceUnavailable", "Tool registry is initializing")
	}
	return r.WriteSuccess(http.StatusOK, nil, nil, ops.dispatcher.ListTools())
}

type healthView struct {
	Status               string `json:"status"`
	Initialized          bool   `json:"initialized"`
	InitializationTimeMs int64  `json:"initializationTimeMs"`
	ToolCount            int    `json:"toolCount"`
	Framework            string `json:"framework"`
	Version              string `json:"version"`
}

func (ops *httpOps) getHealth(ctx context.Context, r *svrcore.ReqRes) bool {
	stats := ops.registry.Stats()
	view := healthView{
		Status:               aids.Iif(stats.Initialized, "UP", "DOWN"),
		Initialized:          stats.Initialized,
		InitializationTimeMs: stats.InitTimeMs,
		ToolCount:            stats.ToolCount,
		Framework:            "webagent",
		Version:              version,
	}
	return r.WriteSuccess(aids.Iif(stats.Initialized, http.StatusOK, http.StatusServiceUnavailable), nil, nil, &view)
}

type metricsView struct {
	InitializationTimeMs int64               `json:"initializationTimeMs"`
	ToolCount            int                 `json:"toolCount"`
	CacheEnabled         bool                `json:"cacheEnabled"`
	DefaultTimeoutMs     int64               `json:"defaultTimeoutMs"`
	QueueDepth           int                 `json:"queueDepth"`
	TasksByStatus        map[task.Status]int `json:"tasksByStatus"`
	CacheStatistics      cache.Statistics    `json:"cacheStatistics"`
}

func (ops *httpOps) getMetrics(ctx context.Context, r *svrcore.ReqRes) bool {
	registryStats := ops.registry.Stats()
	taskStats := ops.executor.Stats(ctx)
	cacheStats, err := ops.descriptions.Statistics(ctx)
	if aids.IsError(err) {
		ops.errorLogger.LogAttrs(ctx, slog.LevelWarn, "Cache statistics unavailable", slog.String("error", err.Error()))
		cacheStats = cache.Statistics{}
	}
	view := metricsView{
		InitializationTimeMs: registryStats.InitTimeMs,
		ToolCount:            registryStats.ToolCount,
		CacheEnabled:         ops.config.CacheProvider != "none",
		DefaultTimeoutMs:     ops.config.DefaultTimeoutMs,
		QueueDepth:           taskStats.QueueDepth,
		TasksByStatus:        taskStats.ByStatus,
		CacheStatistics:      cacheStats,
	}
	return r.WriteSuccess(http.StatusOK, nil, nil, &view)
}

type submitTaskBody struct {
	TaskType string `json:"taskType"`
	Query    string `json:"query"`
	Options  *struct {
		TimeoutSeconds int    `json:"timeoutSeconds"`
		MaxRetries     int    `json:"maxRetries"`
		RequesterID    string `json:"requesterId"`
	} `json:"options"`
}

func (ops *httpOps) postTask(ctx context.Context, r *svrcore.ReqRes) bool {
	var body submitTaskBody
	if r.UnmarshalBody(&body) {
		return true
	}
	if body.TaskType == "" {
		return r.WriteError(http.StatusBadRequest, nil, nil, "BadRequest", "taskType is required")
	}
	opts := task.SubmitOptions{}
	if body.Options != nil {
		opts.TimeoutSeconds = body.Options.TimeoutSeconds
		opts.MaxRetries = body.Options.MaxRetries
		opts.RequesterID = body.Options.RequesterID
	}
	taskID, err := ops.executor.Submit(ctx, body.TaskType, body.Query, opts)
	switch {
	case errors.Is(err, task.ErrQueueFull):
		return r.WriteError(http.StatusServiceUnavailable, &svrcore.ResponseHeader{RetryAfter: aids.New(int32(5))}, nil,
			"TaskQueueFull", "The task queue is full; retry later")
	case aids.IsError(err):
		return r.WriteError(http.StatusBadRequest, nil, nil, "BadRequest", "%s", err.Error())
	}
	return r.WriteSuccess(http.StatusCreated, nil, nil, &struct {
		TaskID string `json:"taskId"`
	}{taskID})
}

func (ops *httpOps) postTaskCancel(ctx context.Context, r *svrcore.ReqRes) bool {
	taskID := r.R.PathValue("taskId")
	if err := ops.executor.Cancel(ctx, taskID); aids.IsError(err) {
		return r.WriteError(http.StatusNotFound, nil, nil, "TaskNotFound", "No task with id %s", taskID)
	}
	return r.WriteSuccess(http.StatusNoContent, nil, nil, nil)
}

func (ops *httpOps) getTask(ctx context.Context, r *svrcore.ReqRes) bool {
	taskID := r.R.PathValue("taskId")
	e, err := ops.executor.Get(ctx, taskID)
	if aids.IsError(err) {
		return r.WriteError(http.StatusNotFound, nil, nil, "TaskNotFound", "No task with id %s", taskID)
	}
	return r.WriteSuccess(http.StatusOK, nil, nil, &e)
}

type progressView struct {
	TaskID          string    `json:"taskId"`
	Status          string    `json:"status"`
	ProgressPercent int       `json:"progressPercent"`
	ProgressMessage string    `json:"progressMessage,omitempty"`
	Screenshots     []string  `json:"screenshots,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// getTaskProgress prefers the broker's retained latest event (shared across
// instances) and falls back to the executor's record.
func (ops *httpOps) getTaskProgress(ctx context.Context, r *svrcore.ReqRes) bool {
	taskID := r.R.PathValue("taskId")
	if event, ok := ops.broker.Latest(ctx, taskID); ok {
		view := progressView{
			TaskID:          event.TaskID,
			Status:          event.Status,
			ProgressPercent: event.ProgressPercent,
			ProgressMessage: event.Message,
			Screenshots:     event.Screenshots,
			Timestamp:       event.Timestamp,
		}
		return r.WriteSuccess(http.StatusOK, nil, nil, &view)
	}
	e, err := ops.executor.Get(ctx, taskID)
	if aids.IsError(err) {
		return r.WriteError(http.StatusNotFound, nil, nil, "TaskNotFound", "No task with id %s", taskID)
	}
	view := progressView{
		TaskID:          e.TaskID,
		Status:          string(e.Status),
		ProgressPercent: e.ProgressPercent,
		ProgressMessage: e.ProgressMessage,
		Screenshots:     e.Screenshots,
		Timestamp:       e.Updated,
	}
	return r.WriteSuccess(http.StatusOK, nil, nil, &view)
}
