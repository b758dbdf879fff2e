package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wingie/webagent/browser"
	"github.com/wingie/webagent/cache"
	"github.com/wingie/webagent/config"
	"github.com/wingie/webagent/dispatch"
	"github.com/wingie/webagent/internal/aids"
	"github.com/wingie/webagent/pubsub"
	"github.com/wingie/webagent/svrcore"
	"github.com/wingie/webagent/svrcore/policies"
	"github.com/wingie/webagent/task"
	"github.com/wingie/webagent/task/localtask"
	"github.com/wingie/webagent/tool"
)

var ctx = context.Background()

// testConfig mirrors the environment defaults, minus anything that would make
// tests block (no shared key, a throttle bound no poll loop can reach).
func testConfig() *config.Config {
	return &config.Config{
		DefaultTimeoutMs:          10_000,
		MaxInitializationTimeMs:   5_000,
		WorkerParallelism:         2,
		StuckTaskThresholdMinutes: 30,
		RetentionDays:             7,
		TaskTimeoutSeconds:        300,
		AsyncEnabled:              true,
		CacheProvider:             "none",
		ProviderModel:             "default",
		Port:                      4044,
		MaxRequestsPerSecond:      10_000,
		Cloud:                     config.CloudLocal,
	}
}

// testServerConfig selects what one test server instance is wired with. The
// zero value gives the full deployment: deploymentTools, the web_browse and
// travel_research processors, and no description cache.
type testServerConfig struct {
	config       *config.Config
	tools        []tool.Registration
	processors   map[string]task.Processor
	descriptions cache.Descriptions

	// leaveUninitialized skips tool registration so the registry reports DOWN.
	leaveUninitialized bool
}

// testServer builds the policy chain, collaborators, and route table the way
// main does, against in-memory store/queue/broker, and returns a client
// talking to it plus the ops for direct collaborator access.
func testServer(t *testing.T, tc testServerConfig) (*testClient, *httpOps) {
	t.Helper()
	c := tc.config
	if c == nil {
		c = testConfig()
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	serverCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)

	var broker pubsub.Broker = pubsub.NewMemory()
	executor := task.NewExecutor(serverCtx, task.ExecutorConfig{
		Workers:        c.WorkerParallelism,
		DefaultTimeout: time.Duration(c.TaskTimeoutSeconds) * time.Second,
		StuckThreshold: time.Duration(c.StuckTaskThresholdMinutes) * time.Minute,
		Retention:      time.Duration(c.RetentionDays) * 24 * time.Hour,
		Store:          localtask.NewStore(),
		Queue:          localtask.NewQueue(c.TaskQueueBound),
		Broker:         broker,
		ErrorLogger:    quiet,
	})

	automator := browser.Canned{}
	if tc.processors == nil {
		executor.RegisterProcessor("web_browse", newWebBrowseProcessor(automator))
		executor.RegisterProcessor("travel_research", newTravelResearchProcessor(automator))
	} else {
		for taskType, p := range tc.processors {
			executor.RegisterProcessor(taskType, p)
		}
	}

	descriptions := tc.descriptions
	if descriptions == nil {
		descriptions = cache.Nop{}
	}
	registry := tool.NewRegistry(tool.RegistryConfig{Descriptions: descriptions, ProviderModel: c.ProviderModel})
	if !tc.leaveUninitialized {
		tools := tc.tools
		if tools == nil {
			tools = deploymentTools(automator)
		}
		start := time.Now()
		if err := registry.RegisterAll(serverCtx, tools); aids.IsError(err) {
			t.Fatal(err)
		}
		registry.MarkInitialized(time.Since(start))
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Registry:         registry,
		Executor:         executor,
		AsyncEnabled:     c.AsyncEnabled,
		DefaultTimeoutMs: c.DefaultTimeoutMs,
	})

	ops := &httpOps{
		errorLogger:  quiet,
		config:       c,
		registry:     registry,
		dispatcher:   dispatcher,
		executor:     executor,
		broker:       broker,
		descriptions: descriptions,
	}

	handler := svrcore.BuildHandler(svrcore.BuildHandlerConfig{
		Policies: []svrcore.Policy{
			shutdownMgr.NewPolicy(),
			policies.NewMetricsPolicy(quiet),
			policies.NewThrottlingPolicy(int64(c.MaxRequestsPerSecond)),
			policies.NewSharedKeyPolicy(c.SharedKey),
		},
		Routes: ops.routes(),
		Logger: quiet,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testClient{t: t, url: srv.URL}, ops
}

type testClient struct {
	t   *testing.T
	url string
}

func (c *testClient) Put(path string, headers http.Header, body io.Reader) *http.Response {
	return c.do(http.MethodPut, path, headers, body)
}

func (c *testClient) Post(path string, headers http.Header, body io.Reader) *http.Response {
	return c.do(http.MethodPost, path, headers, body)
}

func (c *testClient) Get(path string, headers http.Header) *http.Response {
	return c.do(http.MethodGet, path, headers, nil)
}

func (c *testClient) do(method, path string, headers http.Header, body io.Reader) *http.Response {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if aids.IsError(err) {
		c.t.Fatal(err)
	}
	if body != nil && headers.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		for _, val := range v {
			req.Header.Add(k, val)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if aids.IsError(err) {
		c.t.Fatal(err)
	}
	return resp
}

// rpc POSTs one JSON-RPC request to /v1. A nil id sends a notification.
func (c *testClient) rpc(id any, method string, params any) *http.Response {
	req := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		req["id"] = id
	}
	if params != nil {
		req["params"] = params
	}
	return c.Post("/v1", nil, jsonReader(req))
}

func jsonReader(v any) io.Reader { return bytes.NewReader(aids.MustMarshal(v)) }

// rpcEnvelope is the decoded wire form of one JSON-RPC response, success or error.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// serverErrorBody is the REST error shape every non-JSON-RPC failure uses.
type serverErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d (body %s)", want, resp.StatusCode, b)
	}
}

// readJSON decodes the response body into out and closes the body.
func readJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if aids.IsError(err) {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, out); aids.IsError(err) {
		t.Fatalf("unmarshal %q: %s", b, err)
	}
}

// submitTask POSTs one submission and returns the new task id.
func (c *testClient) submitTask(taskType, query string) string {
	c.t.Helper()
	resp := c.Post("/tasks", nil, jsonReader(map[string]any{"taskType": taskType, "query": query}))
	wantStatus(c.t, resp, http.StatusCreated)
	var created struct {
		TaskID string `json:"taskId"`
	}
	readJSON(c.t, resp, &created)
	if created.TaskID == "" {
		c.t.Fatal("expected a task id")
	}
	return created.TaskID
}

func (c *testClient) getTask(taskID string) task.Execution {
	c.t.Helper()
	resp := c.Get("/tasks/"+taskID, nil)
	wantStatus(c.t, resp, http.StatusOK)
	var e task.Execution
	readJSON(c.t, resp, &e)
	return e
}

// awaitStatus polls the task until it reports want.
func (c *testClient) awaitStatus(taskID string, want task.Status) task.Execution {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e := c.getTask(taskID); e.Status == want {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("task %s never reached %s", taskID, want)
	return task.Execution{}
}

// awaitTerminal polls the task until it reaches any end state.
func (c *testClient) awaitTerminal(taskID string) task.Execution {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e := c.getTask(taskID); e.Status.Terminal() {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.t.Fatalf("task %s never reached an end state", taskID)
	return task.Execution{}
}
