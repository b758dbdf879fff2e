package svrcore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wingie/webagent/internal/aids"
	stagescore "github.com/wingie/webagent/internal/stages"
)

// Policy is one link in the request-processing chain. It returns true when a
// response has been written and processing of the request should stop.
type Policy = stagescore.Stage[*ReqRes, bool]

// ReqRes encapsulates the incoming http.Request and the outgoing
// http.ResponseWriter and is passed through the policy chain.
type ReqRes struct {
	// id is a unique ID for this ReqRes (useful for logging, etc.)
	id string

	// R identifies the incoming HTTP request
	R *http.Request

	// H identifies the deserialized standard HTTP headers
	H *RequestHeader

	// RW is the http.ResponseWriter used to write the HTTP response.
	// Prefer [ReqRes.WriteError], [ReqRes.WriteServerError], or [ReqRes.WriteSuccess] over using RW directly.
	RW *responseWriter

	// s holds the not-yet-run tail of the policy chain
	s stagescore.Stages[*ReqRes, bool]

	// l is the logger for anything related to processing the request & its response
	l *slog.Logger

	_ struct{} // Forces use of field names in composite literals
}

// responseWriter is a custom http.ResponseWriter that captures the status code.
type responseWriter struct {
	http.ResponseWriter
	StatusCode          int
	numWriteHeaderCalls int // When done processing, this must be 1 or an error occurred
	rr                  *ReqRes
	_                   struct{} // Forces use of field names in composite literals
}

// WriteHeader overrides http.ResponseWriter's WriteHeader in order to capture the status code.
func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.StatusCode = statusCode
	rw.numWriteHeaderCalls++
	rw.ResponseWriter.WriteHeader(statusCode)
	rr := rw.rr
	rr.l.LogAttrs(rr.R.Context(), slog.LevelInfo, "<-", slog.String("id", rr.id),
		slog.String("method", rr.R.Method), slog.String("url", rr.R.URL.String()),
		slog.Int("StatusCode", rw.StatusCode))
}

// newReqRes creates a new ReqRes with the specified policies, logger, http.Request, & http.ResponseWriter.
func newReqRes(policies []Policy, l *slog.Logger, r *http.Request, rw http.ResponseWriter) *ReqRes {
	rr := &ReqRes{
		id: uuid.NewString(),
		s:  (stagescore.Stages[*ReqRes, bool])(policies).Copy(),
		l:  l,
		R:  r,
		H:  &RequestHeader{},
		RW: &responseWriter{ResponseWriter: rw},
	}
	rr.RW.rr = rr
	rw.Header().Set("Server-Request-Id", rr.id) // Set now, guaranteeing its return to the client

	rr.l.LogAttrs(rr.R.Context(), slog.LevelInfo, "->", slog.String("id", rr.id),
		slog.String("method", rr.R.Method), slog.String("url", rr.R.URL.String()))

	if err := unmarshalHeaderToStruct(r.Header, rr.H); aids.IsError(err) {
		rr.WriteError(http.StatusBadRequest, nil, nil, "UnparsableHeaders", "The request has some invalid headers: %s", err.Error())
		rr.s = nil // Nothing left to run
	}
	return rr
}

// ID returns the unique id assigned to this request (also sent to the client
// in the Server-Request-Id response header).
func (r *ReqRes) ID() string { return r.id }

// Next sends the ReqRes to the next policy in the chain.
func (r *ReqRes) Next(ctx context.Context) bool {
	if len(r.s) == 0 {
		return false
	}
	return r.s.Next(ctx, r)
}

// WriteError sets the HTTP response to the specified status code, response
// headers, custom headers (a pointer-to-struct or nil), errorCode, and message.
// It always returns true so callers can `return r.WriteError(...)` to stop processing.
func (r *ReqRes) WriteError(statusCode int, rh *ResponseHeader, customHeader any, errorCode, messageFmt string, a ...any) bool {
	return r.WriteServerError(NewServerError(statusCode, errorCode, messageFmt, a...), rh, customHeader)
}

// WriteServerError sets the HTTP response to the specified ServerError (with
// its StatusCode), response headers, and custom headers. The body is the
// ServerError marshaled as {"error": {code, message}}. Always returns true.
func (r *ReqRes) WriteServerError(se *ServerError, rh *ResponseHeader, customHeader any) bool {
	r.WriteSuccess(se.StatusCode, rh, customHeader, &errorBody{Error: se})
	return true
}

// WriteSuccess completes the HTTP response using the passed-in statusCode,
// response headers, custom headers (a pointer-to-struct or nil), and bodyStruct
// marshaled to JSON (skipped if nil). rh and customHeader must be pointers to
// structures whose fields are *string, *int, *int32, *int64, *time.Time, or []string.
// Always returns true so terminal policies can `return r.WriteSuccess(...)`.
func (r *ReqRes) WriteSuccess(statusCode int, rh *ResponseHeader, customHeader any, bodyStruct any) bool {
	if rh == nil {
		rh = &ResponseHeader{}
	}
	body := []byte(nil)
	if bodyStruct != nil {
		body = aids.MustMarshal(bodyStruct)
		// A body implies these response headers
		rh.ContentLength, rh.ContentType = aids.New(len(body)), aids.New("application/json")
	}
	fieldsToHeader(r.RW.Header(), rh)
	fieldsToHeader(r.RW.Header(), customHeader)
	r.RW.WriteHeader(statusCode)
	if body != nil {
		_, err := r.RW.Write(body)
		aids.Assert(!errors.Is(err, http.ErrBodyNotAllowed), "RFC 7230, section 3.3: 1xx/204/304 responses must not have a body")
	}
	return true
}

type errorBody struct {
	Error *ServerError `json:"error"`
}

// fieldsToHeader copies ptrToStruct's non-nil fields into rwh using each
// field's json tag as the header name.
func fieldsToHeader(rwh http.Header, ptrToStruct any) {
	if ptrToStruct == nil || reflect.ValueOf(ptrToStruct).IsNil() {
		return
	}
	v := reflect.ValueOf(ptrToStruct).Elem() // *struct --> struct
	for i := range v.NumField() {
		f := v.Field(i)
		headerName := strings.Split(v.Type().Field(i).Tag.Get("json"), ",")[0]
		if headerName == "-" || headerName == "" {
			continue
		}
		switch f.Kind() {
		case reflect.Pointer:
			if f.IsNil() {
				continue
			}
			switch f = f.Elem(); f.Kind() {
			case reflect.String:
				rwh.Set(headerName, f.String())
			case reflect.Int, reflect.Int32, reflect.Int64:
				rwh.Set(headerName, strconv.FormatInt(f.Int(), 10))
			case reflect.Struct:
				if t, ok := f.Interface().(time.Time); ok {
					rwh.Set(headerName, t.Format(http.TimeFormat))
				}
			default:
				panic("unsupported header field type")
			}
		case reflect.Slice:
			for _, s := range f.Interface().([]string) {
				rwh.Add(headerName, s)
			}
		default:
			panic("unsupported header field type")
		}
	}
}

func (r *ReqRes) numWriteHeaderCalls() int { return r.RW.numWriteHeaderCalls }

// RequestHeader holds the deserialized standard HTTP request headers.
type RequestHeader struct { // HTTP/2 requires 'json' field names be lowercase
	Unknown       Unknown    `json:"-"` // Any unrecognized header names go here
	Date          *time.Time `json:"date" format:"RFC1123"`
	Authorization *string    `json:"authorization"`
	UserAgent     *string    `json:"user-agent"`

	// Message body information
	ContentLength   *int64  `json:"content-length"`
	ContentType     *string `json:"content-type"`
	ContentEncoding *string `json:"content-encoding"`

	// Content negotiation
	Accept []string `json:"accept"`

	_ struct{} `json:"-"` // Forces use of field names in composite literals
}

// ResponseHeader holds the standard HTTP response headers this service sends.
type ResponseHeader struct { // HTTP/2 requires 'json' field names be lowercase
	ContentLength *int    `json:"content-length"`
	ContentType   *string `json:"content-type"`

	// Response context
	RetryAfter *int32 `json:"retry-after"` // Seconds

	_ struct{} `json:"-"` // Forces use of field names in composite literals
}

// ValidHeader holds the static header values valid for a specific HTTP method;
// used to validate each request's headers before its route policy runs.
type ValidHeader struct {
	MaxContentLength int64    // if 0, no content allowed
	ContentTypes     []string // e.g. []string{"application/json"}
	ContentEncodings []string
	Accept           []string
	_                struct{} // Forces use of field names in composite literals
}

// validateRequestHeader compares the request's headers with vh and writes a
// 4xx response (returning true) if the request is invalid.
func (r *ReqRes) validateRequestHeader(vh *ValidHeader) bool {
	if vh == nil {
		vh = &ValidHeader{}
	}

	// Content-Length CAN always be specified and, if so, must not be > MaxContentLength
	if r.H.ContentLength != nil && *r.H.ContentLength > vh.MaxContentLength {
		return r.WriteError(http.StatusRequestEntityTooLarge, nil, nil, "ContentBodyTooBig", "content-length was %d but must be <= %d", *r.H.ContentLength, vh.MaxContentLength)
	}

	if vh.MaxContentLength == 0 { // No content expected
		if r.H.ContentType != nil || r.H.ContentEncoding != nil {
			return r.WriteError(http.StatusBadRequest, nil, nil, "NoContentHeadersAllowed", "")
		}
	} else { // Content required
		if r.H.ContentLength == nil {
			return r.WriteError(http.StatusLengthRequired, nil, nil, "ContentLengthRequired", "")
		}
		if r.H.ContentType == nil {
			return r.WriteError(http.StatusUnsupportedMediaType, nil, nil, "ContentTypeRequired", "")
		}
		if !slices.Contains(vh.ContentTypes, *r.H.ContentType) {
			return r.WriteError(http.StatusUnsupportedMediaType, nil, nil, "UnsupportedContentType", "content-type must be one of: %s", strings.Join(vh.ContentTypes, ", "))
		}
		if r.H.ContentEncoding != nil && !slices.Contains(vh.ContentEncodings, *r.H.ContentEncoding) {
			return r.WriteError(http.StatusUnsupportedMediaType, nil, nil, "UnsupportedContentEncoding", "content-encoding must be one of: %s", strings.Join(vh.ContentEncodings, ", "))
		}
		r.R.Body = http.MaxBytesReader(r.RW, r.R.Body, *r.H.ContentLength) // Limit reading body to Content-Length
	}

	if vh.Accept != nil && !slicesIntersect(vh.Accept, r.H.Accept) {
		return r.WriteError(http.StatusNotAcceptable, nil, nil, "UnsupportedAccept", "accept must be one of: %s", strings.Join(vh.Accept, ", "))
	}
	return false
}

func slicesIntersect(s1, s2 []string) bool {
	for _, v1 := range s1 {
		if slices.Contains(s2, v1) {
			return true
		}
	}
	return false
}

// UnmarshalBody unmarshals the request's body into s (a pointer-to-struct).
// Ill-formed JSON writes a 400 response and returns true.
func (r *ReqRes) UnmarshalBody(s any) bool {
	body, err := io.ReadAll(r.R.Body) // Ensure body is fully read
	defer r.R.Body.Close()
	if aids.IsError(err) {
		return r.WriteError(http.StatusBadRequest, nil, nil, "UnreadableBody", "%s", err.Error())
	}
	if err := jsonUnmarshalStrict(body, s); aids.IsError(err) {
		return r.WriteError(http.StatusBadRequest, nil, nil, "InvalidJSONBody", "%s", err.Error())
	}
	return false
}
