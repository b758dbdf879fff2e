// Package svrcore is the HTTP server core: it turns a route table and a chain
// of policies into an http.Handler, guaranteeing that every request produces
// exactly one response and that panics are logged with a readable stack.
package svrcore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/wingie/webagent/internal/aids"
)

// Routes maps URL patterns to the HTTP methods they support.
type Routes map[ /*url*/ string]map[ /*http method*/ string]*MethodInfo

// MethodInfo describes how one (method, url) pair is served.
type MethodInfo struct {
	Policy      Policy       // terminal policy that writes the response
	ValidHeader *ValidHeader // request-header constraints, if any
}

type BuildHandlerConfig struct {
	// Policies is the slice of policies to execute for each request, outermost first.
	Policies []Policy

	// Routes is the route table dispatched to after all Policies run.
	Routes Routes

	// Logger is the logger used for request-processing errors.
	Logger *slog.Logger
}

// BuildHandler creates the http.Handler called for each request; it is usable
// with http.(ListenAnd)Serve(TLS).
//
// Error handling model: requests travel down the policy chain and ultimately
// send a response. For a 2xx, call [ReqRes.WriteSuccess] and return true up
// the stack. For a 4xx/5xx, call [ReqRes.WriteError] (or [ReqRes.WriteServerError])
// which also returns true so deeper code never sends a second response.
//
// When request processing completes, the handler built here examines the
// processed request and logs an error if no response (or more than one) was
// written; if none was, the client gets a 500-InternalServerError.
func BuildHandler(c BuildHandlerConfig) http.Handler {
	policies := append(append([]Policy{}, c.Policies...), newRoutingPolicy(c.Routes))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First function called when an HTTP request comes into the service
		rr := newReqRes(policies, c.Logger, r, w)

		defer func() { // Guarantees logging of processing errors & that the client gets a response
			stack := &strings.Builder{}
			if v := recover(); v != nil { // Capture panic error & stack trace
				stack.WriteString(fmt.Sprintf("Error: %v\n", v))
				aids.WriteStack(stack, aids.ParseStack(2))
				fmt.Fprint(os.Stderr, stack.String()) // Also to stderr so it shows up in container logs
			}
			if stack.Len() == 0 && rr.numWriteHeaderCalls() == 1 {
				return // No panic & exactly 1 response sent; all went as expected
			}
			c.Logger.LogAttrs(rr.R.Context(), slog.LevelError, "Request error", slog.String("id", rr.id),
				slog.String("method", rr.R.Method), slog.String("url", rr.R.URL.String()),
				slog.Int("numWriteHeaderCalls", rr.numWriteHeaderCalls()),
				slog.String("stack", aids.Iif(stack.Len() == 0, "(no panic)", stack.String())))

			if rr.numWriteHeaderCalls() == 0 {
				rr.WriteError(http.StatusInternalServerError, nil, nil, "InternalServerError", "")
			}
		}()

		rr.Next(rr.R.Context())
	})
}

// newRoutingPolicy builds the final policy: an http.ServeMux over the route
// table. Method-qualified patterns carry the route's MethodInfo; a bare
// pattern per URL catches known paths hit with an unsupported method (405).
// Dispatching through the ServeMux is what populates http.Request.PathValue.
func newRoutingPolicy(routes Routes) Policy {
	mux := http.NewServeMux()
	for url, methods := range routes {
		for method, mi := range methods {
			mi := mi
			mux.Handle(method+" "+url, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				// First function called by mux.ServeHTTP
				s := w.(*smuggler)
				s.r.R = r // Replace old R with new 'r' which has PathValues set
				s.stop = s.r.validateRequestHeader(mi.ValidHeader)
				if !s.stop {
					s.stop = mi.Policy(s.r.R.Context(), s.r)
				}
			}))
		}
		mux.Handle(url, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := w.(*smuggler)
			s.stop = s.r.WriteError(http.StatusMethodNotAllowed, nil, nil, "MethodNotAllowed", "Method %s not allowed for %s", r.Method, r.URL.Path)
		}))
	}

	return func(ctx context.Context, r *ReqRes) bool {
		if _, pattern := mux.Handler(r.R); pattern == "" { // No route knows this path at all
			return r.WriteError(http.StatusNotFound, nil, nil, "RouteNotFound", "No route for %s", r.R.URL.Path)
		}
		// Wrap ReqRes inside a ResponseWriter and smuggle it through the ServeMux
		// via ServeHTTP (which sets PathValues); the route handler unwraps it.
		s := &smuggler{ResponseWriter: r.RW.ResponseWriter, r: r}
		mux.ServeHTTP(s, r.R)
		return s.stop
	}
}

type smuggler struct {
	http.ResponseWriter      // Makes a smuggler an http.ResponseWriter so ServeMux.ServeHTTP accepts it
	r                   *ReqRes
	stop                bool // Smuggles the stop flag back out of ServeHTTP
}
